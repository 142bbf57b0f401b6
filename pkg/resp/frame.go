// Package resp holds the response frame returned by every command.
//
// A Frame is a tagged union mirroring the RESP reply kinds (simple string,
// error, integer, bulk bytes, array, null). Commands never return Go errors
// for Redis-level failures; those are Error frames. The extra TxnFailed kind
// marks a retryable storage conflict and never escapes the retry loop under
// normal operation.
package resp

import (
	"fmt"
	"strings"
)

// Kind discriminates the Frame union.
type Kind uint8

const (
	KindSimple Kind = iota
	KindError
	KindInteger
	KindBulk
	KindArray
	KindNull
	KindTxnFailed
)

// Frame is a single command reply.
type Frame struct {
	Kind  Kind
	Str   string   // Simple, Error, TxnFailed
	Int   int64    // Integer
	Data  []byte   // Bulk
	Items []*Frame // Array
}

// OK is the "+OK" simple-string reply.
func OK() *Frame { return &Frame{Kind: KindSimple, Str: "OK"} }

// Simple builds a simple-string reply.
func Simple(s string) *Frame { return &Frame{Kind: KindSimple, Str: s} }

// Err builds an error reply from a message.
func Err(msg string) *Frame { return &Frame{Kind: KindError, Str: msg} }

// Int builds an integer reply.
func Int(n int64) *Frame { return &Frame{Kind: KindInteger, Int: n} }

// Bulk builds a bulk-bytes reply.
func Bulk(b []byte) *Frame { return &Frame{Kind: KindBulk, Data: b} }

// BulkString builds a bulk reply from a string.
func BulkString(s string) *Frame { return &Frame{Kind: KindBulk, Data: []byte(s)} }

// Array builds an array reply.
func Array(items []*Frame) *Frame { return &Frame{Kind: KindArray, Items: items} }

// Null is the nil reply.
func Null() *Frame { return &Frame{Kind: KindNull} }

// TxnFailed marks a retryable transaction conflict.
func TxnFailed(msg string) *Frame { return &Frame{Kind: KindTxnFailed, Str: msg} }

// InvalidArguments is the reply for commands built via the invalid path.
func InvalidArguments() *Frame { return Err("Invalid arguments") }

// IsTxnFailed reports whether the frame is a retryable conflict.
func (f *Frame) IsTxnFailed() bool { return f != nil && f.Kind == KindTxnFailed }

// IsNull reports whether the frame is the nil reply.
func (f *Frame) IsNull() bool { return f == nil || f.Kind == KindNull }

// String renders the frame for logs and test failures, not for the wire.
func (f *Frame) String() string {
	if f == nil {
		return "(nil)"
	}
	switch f.Kind {
	case KindSimple:
		return "+" + f.Str
	case KindError:
		return "-" + f.Str
	case KindInteger:
		return fmt.Sprintf(":%d", f.Int)
	case KindBulk:
		return fmt.Sprintf("$%q", f.Data)
	case KindArray:
		parts := make([]string, len(f.Items))
		for i, it := range f.Items {
			parts[i] = it.String()
		}
		return "*[" + strings.Join(parts, " ") + "]"
	case KindTxnFailed:
		return "!txn:" + f.Str
	default:
		return "(null)"
	}
}
