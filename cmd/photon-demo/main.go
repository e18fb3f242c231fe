// Command photon-demo runs a two-rank put_with_completion round trip
// over the loopback TCPBackend: one process per rank, rendezvousing
// through a shared directory rather than a real MPI/PMI launcher.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	"unsafe"

	"github.com/ehrlich-b/photonrdma"
	"github.com/ehrlich-b/photonrdma/internal/logging"
	"github.com/ehrlich-b/photonrdma/internal/transport"
)

func uintptrOfDemo(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}

// writeBufferDesc and readBufferDesc publish/fetch a registered
// buffer's real address and rkey pair across the rendezvous
// directory. Each rank runs in its own process with its own address
// space, so rank 0 has no way to learn rank 1's dst buffer's real
// address except by rank 1 telling it — unlike the in-process sim
// backend, a raw local uintptr is never meaningful on a peer here.
func writeBufferDesc(dir string, rank int, addr uintptr, priv photon.BufferPriv) error {
	path := filepath.Join(dir, fmt.Sprintf("rank-%d.buf", rank))
	data := make([]byte, 24)
	binary.LittleEndian.PutUint64(data[0:8], uint64(addr))
	binary.LittleEndian.PutUint64(data[8:16], priv.Key0)
	binary.LittleEndian.PutUint64(data[16:24], priv.Key1)
	return os.WriteFile(path, data, 0o644)
}

func readBufferDesc(ctx context.Context, dir string, rank int) (uint64, photon.BufferPriv, error) {
	path := filepath.Join(dir, fmt.Sprintf("rank-%d.buf", rank))
	for {
		b, err := os.ReadFile(path)
		if err == nil && len(b) == 24 {
			priv := photon.BufferPriv{
				Key0: binary.LittleEndian.Uint64(b[8:16]),
				Key1: binary.LittleEndian.Uint64(b[16:24]),
			}
			return binary.LittleEndian.Uint64(b[0:8]), priv, nil
		}
		select {
		case <-ctx.Done():
			return 0, photon.BufferPriv{}, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func main() {
	var (
		rank      = flag.Int("rank", 0, "this process's rank (0 or 1)")
		rendezDir = flag.String("rendezvous-dir", os.TempDir()+"/photon-demo", "shared directory both ranks can read/write")
		listen    = flag.String("listen", "127.0.0.1:0", "TCP address to listen on")
		size      = flag.Int("size", 4096, "payload size in bytes")
		verbose   = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *rank != 0 && *rank != 1 {
		log.Fatalf("rank must be 0 or 1, got %d", *rank)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	if err := os.MkdirAll(*rendezDir, 0o755); err != nil {
		log.Fatalf("rendezvous dir: %v", err)
	}

	backend, err := transport.NewTCPBackend(*listen)
	if err != nil {
		log.Fatalf("tcp backend: %v", err)
	}

	cfg := photon.DefaultConfig(2, *rank)
	cfg.Transport.BackendName = "tcp"
	cfg.Transport.External = dirRendezvous(*rendezDir, *rank, 2)
	cfg.Logger = logger

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("bootstrapping runtime", "rank", *rank, "listen", *listen)
	rt, err := photon.New(ctx, cfg, backend)
	if err != nil {
		log.Fatalf("runtime init: %v", err)
	}
	defer rt.Finalize()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	peer := 1 - *rank
	dst := make([]byte, *size)
	dstPriv, err := rt.RegisterBuffer(uintptrOfDemo(dst), uint64(len(dst)), 0)
	if err != nil {
		log.Fatalf("register_buffer: %v", err)
	}

	if *rank == 1 {
		if err := writeBufferDesc(*rendezDir, 1, uintptrOfDemo(dst), dstPriv); err != nil {
			log.Fatalf("publish dst descriptor: %v", err)
		}

		logger.Info("waiting for a put_with_completion from rank 0", "size", *size)
		deadline := time.Now().Add(10 * time.Second)
		for {
			ok, rid, err := rt.ProbeCompletion(peer, photon.ProbeLedger|photon.ProbeEVQ)
			if err != nil {
				log.Fatalf("probe_completion: %v", err)
			}
			if ok {
				fmt.Printf("rank 1: observed completion rid=%s, first byte=%d\n", rid, dst[0])
				break
			}
			if time.Now().After(deadline) {
				log.Fatal("timed out waiting for completion")
			}
			time.Sleep(time.Millisecond)
		}
	} else {
		src := make([]byte, *size)
		for i := range src {
			src[i] = byte(i)
		}
		if _, err := rt.RegisterBuffer(uintptrOfDemo(src), uint64(len(src)), 0); err != nil {
			log.Fatalf("register_buffer: %v", err)
		}

		remoteAddr, remotePriv, err := readBufferDesc(ctx, *rendezDir, 1)
		if err != nil {
			log.Fatalf("fetch dst descriptor: %v", err)
		}

		logger.Info("sending put_with_completion", "peer", peer, "size", *size)
		if _, err := rt.PutWithCompletion(peer, src, remoteAddr, remotePriv, 0x1, 0); err != nil {
			log.Fatalf("put_with_completion: %v", err)
		}
		fmt.Println("rank 0: put_with_completion posted")
	}

	select {
	case <-sigCh:
	case <-time.After(200 * time.Millisecond):
	}
}

// dirRendezvous implements transport.ExternalExchange with a shared
// directory: each rank writes its encoded self bytes as a file named
// after its rank, and polls for the others to appear.
func dirRendezvous(dir string, rank, nproc int) *transport.ExternalExchange {
	return &transport.ExternalExchange{
		Allgather: func(ctx context.Context, myBytes []byte) ([][]byte, error) {
			path := filepath.Join(dir, fmt.Sprintf("rank-%d.addr", rank))
			if err := os.WriteFile(path, myBytes, 0o644); err != nil {
				return nil, fmt.Errorf("write self: %w", err)
			}
			out := make([][]byte, nproc)
			for i := 0; i < nproc; i++ {
				p := filepath.Join(dir, fmt.Sprintf("rank-%d.addr", i))
				for {
					b, err := os.ReadFile(p)
					if err == nil {
						out[i] = b
						break
					}
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-time.After(10 * time.Millisecond):
					}
				}
			}
			return out, nil
		},
		Barrier: func(ctx context.Context) error {
			path := filepath.Join(dir, fmt.Sprintf("barrier-%d.done", rank))
			if err := os.WriteFile(path, []byte{1}, 0o644); err != nil {
				return fmt.Errorf("write barrier marker: %w", err)
			}
			for i := 0; i < nproc; i++ {
				p := filepath.Join(dir, fmt.Sprintf("barrier-%d.done", i))
				for {
					if _, err := os.Stat(p); err == nil {
						break
					}
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(10 * time.Millisecond):
					}
				}
			}
			return nil
		},
	}
}
