package photon

import (
	"errors"
	"syscall"
	"testing"

	"github.com/ehrlich-b/photonrdma/internal/handshake"
	"github.com/ehrlich-b/photonrdma/internal/pwc"
	"github.com/ehrlich-b/photonrdma/internal/reqtable"
)

func TestStructuredError(t *testing.T) {
	err := NewError("register_buffer", CodeInvalid, "invalid queue depth")

	if err.Op != "register_buffer" {
		t.Errorf("expected Op=register_buffer, got %s", err.Op)
	}
	if err.Code != CodeInvalid {
		t.Errorf("expected Code=CodeInvalid, got %s", err.Code)
	}

	expected := "photon: invalid queue depth (op=register_buffer)"
	if err.Error() != expected {
		t.Errorf("expected error message %q, got %q", expected, err.Error())
	}
}

func TestPeerError(t *testing.T) {
	err := NewPeerError("post_recv_buffer_rdma", 3, CodeResource, "request table full")

	if err.Peer != 3 {
		t.Errorf("expected Peer=3, got %d", err.Peer)
	}

	expected := "photon: request table full (op=post_recv_buffer_rdma, peer=3)"
	if err.Error() != expected {
		t.Errorf("expected error message %q, got %q", expected, err.Error())
	}
}

func TestRequestError(t *testing.T) {
	rid := NewRid(7, 42)
	err := NewRequestError("wait", 7, rid, CodeLookup, "no such request")

	if err.Rid != rid {
		t.Errorf("expected Rid=%s, got %s", rid, err.Rid)
	}
	if err.Peer != 7 {
		t.Errorf("expected Peer=7, got %d", err.Peer)
	}
}

func TestWrapTransportError(t *testing.T) {
	err := WrapTransportError("post_os_put", 1, syscall.ENOMEM)

	if err.Code != CodeResource {
		t.Errorf("expected Code=CodeResource, got %s", err.Code)
	}
	if err.Errno != syscall.ENOMEM {
		t.Errorf("expected Errno=ENOMEM, got %v", err.Errno)
	}
}

func TestWrapTransportErrorNil(t *testing.T) {
	if WrapTransportError("noop", 0, nil) != nil {
		t.Error("expected nil wrap of nil error")
	}
}

func TestErrorIsByCode(t *testing.T) {
	base := &Error{Code: CodeLookup}
	err := NewRequestError("find_containing", 0, 0, CodeLookup, "not registered")

	if !errors.Is(err, base) {
		t.Error("expected errors.Is to match on Code")
	}

	other := &Error{Code: CodeTransport}
	if errors.Is(err, other) {
		t.Error("expected errors.Is to reject a different Code")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("wait_any", CodeTransport, "backend reported failure")

	if !IsCode(err, CodeTransport) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, CodeInvalid) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, CodeTransport) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestErrnoMapping(t *testing.T) {
	testCases := []struct {
		errno    syscall.Errno
		expected Code
	}{
		{syscall.EINVAL, CodeInvalid},
		{syscall.ENOMEM, CodeResource},
		{syscall.ENOSPC, CodeResource},
		{syscall.EAGAIN, CodeResource},
		{syscall.ENOSYS, CodeUnimplemented},
		{syscall.EOPNOTSUPP, CodeUnimplemented},
		{syscall.EIO, CodeTransport},
	}

	for _, tc := range testCases {
		if code := mapErrnoToCode(tc.errno); code != tc.expected {
			t.Errorf("mapErrnoToCode(%v) = %s, want %s", tc.errno, code, tc.expected)
		}
	}
}

func TestCodeForInnerMapsPackageSentinels(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected Code
	}{
		{"handshake lookup", handshake.NewLookupError("wait_recv_buffer_rdma", 2, errors.New("miss")), CodeLookup},
		{"handshake resource", handshake.NewResourceError("post_recv_buffer_rdma", 2, errors.New("full")), CodeResource},
		{"handshake invalid", handshake.NewInvalidError("wait", 2, errors.New("bad id")), CodeInvalid},
		{"reqtable not found", reqtable.ErrNotFound, CodeLookup},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if code := codeForInner(tc.err); code != tc.expected {
				t.Errorf("codeForInner(%v) = %s, want %s", tc.err, code, tc.expected)
			}
		})
	}
}

func TestWrapTransportErrorUsesPackageSentinel(t *testing.T) {
	inner := pwc.ErrResource
	err := WrapTransportError("put_with_completion", 1, inner)
	if err.Code != CodeResource {
		t.Errorf("expected Code=CodeResource, got %s", err.Code)
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &Error{Op: "test", Code: CodeTransport, Inner: inner}

	if errors.Unwrap(err) != inner {
		t.Error("expected Unwrap to return the inner error")
	}
}
