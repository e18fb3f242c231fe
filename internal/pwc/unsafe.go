package pwc

import "unsafe"

// copyToAddr memcpys payload to a raw process address. The PWC eager
// path's header carries the consumer's own previously-registered
// destination address, so reconstructing a byte view over it here is
// the same trick internal/transport's sim backend uses to address an
// application's registered buffers directly.
func copyToAddr(addr uint64, payload []byte) {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(payload))
	copy(dst, payload)
}
