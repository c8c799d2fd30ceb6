package wal

import (
	"bufio"
	"connbridge/pkg/listener"
	"connbridge/pkg/types"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
)

// Entry represents a single entry
type Entry struct {
	SeqNum types.SequenceNumber
	Key    []byte
	Value  []byte
	Meta   uint64
}

// Ack reports the outcome of writing one entry.
type Ack struct {
	SeqNum types.SequenceNumber
	Err    error
}

// WAL implements write-ahead logging. Entries are written by a background listener in
// Append order; each write is acknowledged on Done.
type WAL struct {
	*listener.Listener[Entry]

	mu         sync.Mutex
	file       *os.File
	writer     *bufio.Writer
	filePath   string
	syncWrites bool

	inputCh chan Entry
	doneCh  chan Ack
}

// New creates a new WAL instance
func New(dir string, syncWrites bool) (*WAL, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty WAL dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filePath := filepath.Join(dir, "wal.log")
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	wal := &WAL{
		file:       file,
		writer:     bufio.NewWriter(file),
		filePath:   filePath,
		syncWrites: syncWrites,
		inputCh:    make(chan Entry, 3),
		doneCh:     make(chan Ack, 3),
	}

	wal.Listener = listener.New(wal.inputCh, wal.writeFile, wal.stop)

	return wal, nil
}

func (w *WAL) Append(entry Entry) {
	w.inputCh <- entry
}

// will be called async by WAL.listener on input in WAL.inputCh
func (w *WAL) writeFile(entry Entry) error {
	w.doneCh <- Ack{SeqNum: entry.SeqNum, Err: w.persist(entry)}
	return nil
}

func (w *WAL) persist(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writeEntry(entry); err != nil {
		return fmt.Errorf("failed to write WAL entry: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if w.syncWrites {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL: %w", err)
		}
	}
	return nil
}

// Replay calls callback for every logged entry with SeqNum >= start, in log order.
// A torn entry at the tail of the log ends the replay.
func (w *WAL) Replay(start types.SequenceNumber, callback func(Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL before replay: %w", err)
	}

	file, err := os.Open(w.filePath)
	if err != nil {
		return fmt.Errorf("failed to open WAL for reading: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close WAL read file", "error", cerr)
		}
	}()

	reader := bufio.NewReader(file)

	for {
		entry, err := readEntry(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("truncated WAL tail ignored", "path", w.filePath)
				break
			}
			return fmt.Errorf("failed to read WAL entry: %w", err)
		}
		if entry.SeqNum < start {
			continue
		}

		if err := callback(entry); err != nil {
			return fmt.Errorf("WAL replay callback failed: %w", err)
		}
	}

	return nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL on close: %w", err)
		}
		w.writer = nil
	}

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close WAL file: %w", err)
		}
		w.file = nil
	}

	return nil
}

// writeEntry layout: seq u64 | meta u64 | key len u32 | key | value len u32 | value,
// all little endian.
func (w *WAL) writeEntry(entry Entry) error {
	if w.writer == nil {
		return fmt.Errorf("WAL writer is nil")
	}
	if len(entry.Key) > math.MaxUint32 {
		return fmt.Errorf("key too large: %d", len(entry.Key))
	}
	if len(entry.Value) > math.MaxUint32 {
		return fmt.Errorf("value too large: %d", len(entry.Value))
	}

	buf := make([]byte, 0, 24+len(entry.Key)+len(entry.Value))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(entry.SeqNum))
	buf = binary.LittleEndian.AppendUint64(buf, entry.Meta)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(entry.Key)))
	buf = append(buf, entry.Key...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(entry.Value)))
	buf = append(buf, entry.Value...)

	_, err := w.writer.Write(buf)
	return err
}

// readEntry reads a single entry. io.EOF means a clean end of log, io.ErrUnexpectedEOF
// a partially written entry.
func readEntry(reader *bufio.Reader) (Entry, error) {
	var (
		entry Entry
		head  [20]byte
	)

	if _, err := io.ReadFull(reader, head[:]); err != nil {
		return entry, err
	}
	entry.SeqNum = types.SequenceNumber(binary.LittleEndian.Uint64(head[0:]))
	entry.Meta = binary.LittleEndian.Uint64(head[8:])
	keyLen := binary.LittleEndian.Uint32(head[16:])

	entry.Key = make([]byte, keyLen)
	if _, err := io.ReadFull(reader, entry.Key); err != nil {
		return entry, noEOF(err)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(reader, lenBuf[:]); err != nil {
		return entry, noEOF(err)
	}
	entry.Value = make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(reader, entry.Value); err != nil {
		return entry, noEOF(err)
	}

	return entry, nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (w *WAL) Done() <-chan Ack {
	return w.doneCh
}

func (w *WAL) stop() {
	close(w.inputCh)
	close(w.doneCh)
}
