package photon

import "fmt"

// Rid is the 64-bit request identifier: (peer_id:u32, index:u32). Index
// is the request table slot + 1; index 0 is reserved as NULL so that the
// zero Rid never aliases a live request.
type Rid uint64

// NewRid packs a peer id and a request-table index into a Rid.
func NewRid(peer uint32, index uint32) Rid {
	return Rid(uint64(peer)<<32 | uint64(index))
}

// Peer extracts the peer id from a Rid.
func (r Rid) Peer() uint32 { return uint32(r >> 32) }

// Index extracts the request-table index (slot+1) from a Rid.
func (r Rid) Index() uint32 { return uint32(r) }

func (r Rid) String() string {
	return fmt.Sprintf("0x%016x", uint64(r))
}

// NullRid is the sentinel "no request" identifier.
const NullRid Rid = 0

// Cookie tags transport-level completions that are not application
// requests: rendezvous control-plane sends/receives, FIN notifications,
// and eager arrivals. The high byte is a fixed prefix (0xff) so a cookie
// never collides with a legitimate Rid built from small peer/index pairs
// during the lifetime of a single run (peer/index space is far smaller
// than 2^24 in practice; callers that need the guarantee formally should
// treat Cookie and Rid as disjoint tagged unions, never compared directly).
type Cookie uint64

const (
	cookPrefixShift = 56
	cookPrefixMask  = Cookie(0xff) << cookPrefixShift
)

const (
	CookNil   Cookie = 0xff << cookPrefixShift // no cookie / fire-and-forget
	CookSend  Cookie = (0xff<<cookPrefixShift | 0x10<<48)
	CookRecv  Cookie = (0xff<<cookPrefixShift | 0x20<<48)
	CookEager Cookie = (0xff<<cookPrefixShift | 0x30<<48)
	CookEledg Cookie = (0xff<<cookPrefixShift | 0x40<<48)
	CookPledg Cookie = (0xff<<cookPrefixShift | 0x50<<48)
	CookEbuf  Cookie = (0xff<<cookPrefixShift | 0x60<<48)
	CookPbuf  Cookie = (0xff<<cookPrefixShift | 0x70<<48)
	CookFin   Cookie = (0xff<<cookPrefixShift | 0x80<<48)
	CookSinfo Cookie = (0xff<<cookPrefixShift | 0x90<<48)
	CookRinfo Cookie = (0xff<<cookPrefixShift | 0xa0<<48)
	CookGpwc  Cookie = (0xff<<cookPrefixShift | 0xb0<<48)
)

// IsCookie reports whether the given wire-level cookie (as carried by a
// transport completion) is a recognized prefix cookie rather than an
// application Rid.
func IsCookie(v uint64) bool {
	return Cookie(v)&cookPrefixMask == cookPrefixMask
}

// AsRid reinterprets a raw completion identifier as an application Rid.
// Callers must first check !IsCookie(v).
func AsRid(v uint64) Rid { return Rid(v) }
