package memgraph

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"

	"github.com/jbajic/memgraph/mem"
	"github.com/jbajic/memgraph/options"
	"github.com/jbajic/memgraph/pb"
	"github.com/jbajic/memgraph/z"
)

const (
	// DeltaLogFilename is the filename for the delta log inside the instance directory.
	DeltaLogFilename = "DELTALOG"

	// deltaLogVersion is included in the delta log header to indicate the version of the
	// encoding used to write it.
	deltaLogVersion = 0x01052019
)

var (
	// deltaLogMagic prefixes the delta log so replay can tell the file was written by this
	// storage engine and not by something else.
	deltaLogMagic = [4]byte{'!', 'M', 'g', 'd'}
)

var (
	// errBadDeltaLogMagic is returned when a delta log is missing its 4 byte signature prefix.
	errBadDeltaLogMagic = errors.New("delta log has bad magic")

	// ErrBadDeltaLogVersion is returned when a delta log was written with an encoding this
	// version cannot handle.
	ErrBadDeltaLogVersion = errors.New("delta log has bad version")

	// ErrBadDeltaLogChecksum is returned when a frame's checksum does not match the data read
	// from the file, which usually means the file is corrupted.
	ErrBadDeltaLogChecksum = errors.New("delta log has bad checksum")
)

type (
	// DeltaLog is the file-backed delta sink: an append-only sequence of length and checksum
	// framed DeltaSets. Appends from concurrent transactions interleave at frame granularity
	// and each transaction's frames stay in its program order.
	DeltaLog struct {
		file      *os.File
		directory string

		// Guards appends, which includes access to the frame scratch pool.
		appendLock sync.Mutex

		// buffers serves the frame scratch allocations; frames live exactly for one append.
		buffers *mem.PoolResource

		syncWrites bool
		inMemory   bool
	}

	// countingReader tracks how many bytes have been consumed so replay can truncate a torn
	// tail.
	countingReader struct {
		wrapped *bufio.Reader
		count   int64
	}
)

// Read will read from the buffer into the provided byte slice. It will increment the count for
// the number of bytes read.
func (r *countingReader) Read(p []byte) (n int, err error) {
	n, err = r.wrapped.Read(p)
	r.count += int64(n)

	return
}

// ReadByte will read a single byte and increment the count by one.
func (r *countingReader) ReadByte() (b byte, err error) {
	b, err = r.wrapped.ReadByte()
	if err == nil {
		r.count++
	}
	return
}

// OpenDeltaLog opens the instance's delta log, creating it when absent, and replays whatever it
// already holds. The replayed deltas are returned so the caller can rebuild derived state such
// as the highest handed-out gids.
func OpenDeltaLog(opts options.Options) (*DeltaLog, []pb.Delta, error) {
	if opts.InMemory {
		return &DeltaLog{inMemory: true}, nil, nil
	}

	path := filepath.Join(opts.Directory, DeltaLogFilename)
	var flags uint32
	if opts.ReadOnly {
		flags |= z.ReadOnly
	}

	file, err := z.OpenExistingFile(path, flags)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, nil, errors.Wrap(err, "failed to open existing delta log")
		}
		if opts.ReadOnly {
			return nil, nil, errors.New("no delta log found, required for read-only instance")
		}

		file, err = createDeltaLog(opts.Directory)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to write new delta log")
		}

		return newDeltaLogFile(file, opts), nil, nil
	}

	deltas, truncateOffset, err := ReplayDeltaLog(file)
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}

	if !opts.ReadOnly {
		// Truncate the file so we don't have a half-written frame at the end.
		if err := file.Truncate(truncateOffset); err != nil {
			_ = file.Close()
			return nil, nil, err
		}
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		_ = file.Close()
		return nil, nil, err
	}

	return newDeltaLogFile(file, opts), deltas, nil
}

func newDeltaLogFile(file *os.File, opts options.Options) *DeltaLog {
	return &DeltaLog{
		file:       file,
		directory:  opts.Directory,
		buffers:    mem.NewPoolResource(64, 1<<12, mem.HeapResource()),
		syncWrites: opts.SyncWrites,
	}
}

// createDeltaLog writes a fresh delta log containing only the header and syncs the directory
// entry.
func createDeltaLog(directory string) (*os.File, error) {
	path := filepath.Join(directory, DeltaLogFilename)

	file, err := z.OpenTruncFile(path, false)
	if err != nil {
		return nil, err
	}

	// The first 8 bytes are a signature prefix and the encoding version.
	buf := make([]byte, 8)
	copy(buf[0:4], deltaLogMagic[:])
	binary.BigEndian.PutUint32(buf[4:8], deltaLogVersion)

	if _, err := file.Write(buf); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := z.FileSync(file); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := syncDir(directory); err != nil {
		_ = file.Close()
		return nil, err
	}

	return file, nil
}

// Emit appends one delta to the log. It implements the delta sink interface.
func (l *DeltaLog) Emit(delta pb.Delta) error {
	return l.EmitSet(pb.DeltaSet{Deltas: []pb.Delta{delta}})
}

// EmitSet appends a batch of deltas as one atomic frame: on replay either the whole set is
// seen or none of it.
func (l *DeltaLog) EmitSet(set pb.DeltaSet) error {
	if l.inMemory {
		return nil
	}

	l.appendLock.Lock()
	defer l.appendLock.Unlock()

	// Frame layout: 4 byte payload length, 4 byte checksum, payload. The frame is staged in a
	// pool block whose lifetime is exactly this append.
	payloadSize := set.EncodedSize()
	frameSize := 8 + payloadSize
	allocSize := uintptr(frameSize+7) &^ 7

	block, err := l.buffers.Allocate(allocSize, 8)
	if err != nil {
		return err
	}
	defer func() {
		_ = l.buffers.Deallocate(block, allocSize, 8)
	}()

	frame := unsafe.Slice((*byte)(block), allocSize)[:frameSize]
	payload := frame[8:]
	if err := marshalDeltaSet(set, payload); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(frame[0:4], uint32(payloadSize))
	binary.BigEndian.PutUint32(frame[4:8], xxhash.Checksum32(payload))

	if _, err := l.file.Write(frame); err != nil {
		return err
	}
	if l.syncWrites {
		return z.FileSync(l.file)
	}
	return nil
}

// marshalDeltaSet encodes the set into dst, which must hold exactly EncodedSize bytes.
func marshalDeltaSet(set pb.DeltaSet, dst []byte) error {
	encoded := set.Marshal()
	if len(encoded) != len(dst) {
		return errors.Errorf(
			"delta set encoded size mismatch. Need: %d Got: %d", len(dst), len(encoded),
		)
	}
	copy(dst, encoded)
	return nil
}

// Sync flushes any buffered appends to the disk.
func (l *DeltaLog) Sync() error {
	if l.inMemory {
		return nil
	}

	l.appendLock.Lock()
	defer l.appendLock.Unlock()
	return z.FileSync(l.file)
}

// close will simply close the delta log file and drop the frame pool, gracefully handling an
// in-memory instance.
func (l *DeltaLog) close() error {
	if l.inMemory {
		return nil
	}

	l.appendLock.Lock()
	defer l.appendLock.Unlock()

	l.buffers.Release()
	return l.file.Close()
}

// ReplayDeltaLog reads every intact frame of the log, returning the deltas in append order and
// the offset of the first torn or missing frame, which is where the caller should truncate.
func ReplayDeltaLog(file *os.File) ([]pb.Delta, int64, error) {
	reader := countingReader{
		wrapped: bufio.NewReader(file),
	}

	var headerBuf [8]byte
	if _, err := io.ReadFull(&reader, headerBuf[:]); err != nil {
		return nil, 0, errors.Wrapf(errBadDeltaLogMagic, "could not read: %v", err)
	} else if !bytes.Equal(headerBuf[0:4], deltaLogMagic[:]) {
		return nil, 0, errors.Wrap(errBadDeltaLogMagic, "missing magic prefix")
	}

	if version := binary.BigEndian.Uint32(headerBuf[4:8]); version != deltaLogVersion {
		return nil, 0, ErrBadDeltaLogVersion
	}

	stat, err := file.Stat()
	if err != nil {
		return nil, 0, errors.Wrap(err, "error while trying to read file stats")
	}
	fileSize := uint32(stat.Size())

	// Frames live for exactly one replay; serve them from a monotonic arena released at the
	// end.
	scratch := mem.NewMonotonicResource(1 << 16)
	defer scratch.Release()

	var (
		deltas []pb.Delta
		offset int64
	)
	for {
		offset = reader.count

		var lenCrcBuf [8]byte
		if _, err := io.ReadFull(&reader, lenCrcBuf[:]); err != nil {
			// Either there is no more data to be read, or the last frame was cut off and cannot
			// be read anyway.
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, 0, errors.Wrap(err, "failed to replay delta log")
		}

		length := binary.BigEndian.Uint32(lenCrcBuf[0:4])

		// Sanity check so a corrupted length field cannot make us over-allocate.
		if length > fileSize {
			return nil, 0, errors.Wrapf(
				errors.New("frame length greater than file size, delta log might be corrupted"),
				"frame length: %d file size: %d",
				length,
				fileSize,
			)
		}

		allocSize := uintptr(length+7) &^ 7
		block, err := scratch.Allocate(allocSize, 8)
		if err != nil {
			return nil, 0, err
		}
		buf := unsafe.Slice((*byte)(block), allocSize)[:length]

		if _, err := io.ReadFull(&reader, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, 0, errors.Wrap(err, "failed to replay delta log")
		}

		if xxhash.Checksum32(buf) != binary.BigEndian.Uint32(lenCrcBuf[4:8]) {
			return nil, 0, ErrBadDeltaLogChecksum
		}

		var set pb.DeltaSet
		if err := set.Unmarshal(buf); err != nil {
			return nil, 0, errors.Wrap(err, "failed to unmarshal delta set from frame")
		}
		deltas = append(deltas, set.Deltas...)

		offset = reader.count
	}

	return deltas, offset, nil
}
