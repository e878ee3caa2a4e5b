package link

import "time"

// Transfer defaults. Chunk size and pacing are tuned for low-power serial
// printer firmwares that drop bursts larger than their internal buffer.
const (
	DefaultChunkSize      = 512
	DefaultChunkDelay     = 40 * time.Millisecond
	DefaultConnectTimeout = 5000 * time.Millisecond
	DefaultConnectRetries = 1
)

// TransferOptions configures a single SendBytes call.
type TransferOptions struct {
	// KeepAlive retains the session after a successful transfer. When
	// false the session is torn down even though the write succeeded.
	KeepAlive bool

	// ChunkSize is the number of bytes written before each flush+pace.
	ChunkSize int

	// ChunkDelay is the pause between chunks; 0 disables pacing.
	ChunkDelay time.Duration

	// ConnectTimeout bounds the connect step only, not the writes.
	ConnectTimeout time.Duration

	// ConnectRetries is the number of additional connect attempts beyond
	// the first.
	ConnectRetries int
}

// DefaultTransferOptions returns the defaults with KeepAlive set.
func DefaultTransferOptions() TransferOptions {
	return TransferOptions{
		KeepAlive:      true,
		ChunkSize:      DefaultChunkSize,
		ChunkDelay:     DefaultChunkDelay,
		ConnectTimeout: DefaultConnectTimeout,
		ConnectRetries: DefaultConnectRetries,
	}
}

// withDefaults fills unset size and timing fields. KeepAlive and
// ConnectRetries are left to the caller: false and zero are meaningful
// values, not absences.
func (o TransferOptions) withDefaults() TransferOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkDelay < 0 {
		o.ChunkDelay = 0
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ConnectRetries < 0 {
		o.ConnectRetries = 0
	}
	return o
}
