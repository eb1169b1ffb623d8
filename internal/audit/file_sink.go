// SPDX-License-Identifier: MIT

package audit

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"
)

var chainKey = blake3.Sum256([]byte("ztc audit chain v1"))

// ErrChainBroken is returned by Verify when a record does not link to its
// predecessor or its hash does not match its content.
var ErrChainBroken = errors.New("audit: hash chain broken")

// FileSink appends records as JSON lines. Each line carries the hash of the
// previous line, making truncation or edits detectable by Verify.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
	seq  uint64
	prev string
}

// OpenFile opens (or creates) an audit log and resumes its chain.
func OpenFile(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	last, count, err := lastRecord(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	s := &FileSink{f: f, path: path}
	if count > 0 {
		s.seq = last.Seq
		s.prev = last.Hash
	}
	return s, nil
}

func lastRecord(path string) (Record, int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, 0, nil
	}
	if err != nil {
		return Record{}, 0, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	var (
		last  Record
		count int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := json.Unmarshal(sc.Bytes(), &last); err != nil {
			return Record{}, 0, fmt.Errorf("audit: %s line %d: %w", path, count+1, err)
		}
		count++
	}
	return last, count, sc.Err()
}

// chainHash hashes rec with Hash cleared, keyed for domain separation.
func chainHash(rec Record) (string, error) {
	rec.Hash = ""
	body, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	h, err := blake3.NewKeyed(chainKey[:])
	if err != nil {
		return "", err
	}
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Write implements Sink. The line is fsynced before Write returns.
func (s *FileSink) Write(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}

	rec = stamp(rec)
	rec.Seq = s.seq + 1
	rec.PrevHash = s.prev
	hash, err := chainHash(rec)
	if err != nil {
		return fmt.Errorf("audit: hash record: %w", err)
	}
	rec.Hash = hash

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: encode record: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	s.seq = rec.Seq
	s.prev = rec.Hash
	return nil
}

// Path returns the log file path.
func (s *FileSink) Path() string { return s.path }

// Close implements Sink.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// VerifyResult summarises a chain check.
type VerifyResult struct {
	Records  int
	LastSeq  uint64
	LastHash string
}

// Verify walks the log at path and checks every link of the hash chain.
func Verify(path string) (VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()
	return VerifyReader(f)
}

// VerifyReader is Verify over an arbitrary reader.
func VerifyReader(r io.Reader) (VerifyResult, error) {
	var (
		res  VerifyResult
		prev string
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return res, fmt.Errorf("%w: line %d: %v", ErrChainBroken, line, err)
		}
		if rec.Seq != res.LastSeq+1 {
			return res, fmt.Errorf("%w: line %d: seq %d follows %d", ErrChainBroken, line, rec.Seq, res.LastSeq)
		}
		if rec.PrevHash != prev {
			return res, fmt.Errorf("%w: line %d: prev_hash mismatch", ErrChainBroken, line)
		}
		want, err := chainHash(rec)
		if err != nil {
			return res, err
		}
		if want != rec.Hash {
			return res, fmt.Errorf("%w: line %d: content hash mismatch", ErrChainBroken, line)
		}
		prev = rec.Hash
		res.Records++
		res.LastSeq = rec.Seq
		res.LastHash = rec.Hash
	}
	return res, sc.Err()
}
