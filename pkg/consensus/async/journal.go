package async

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/silo"
)

type opKind byte

const (
	opSet opKind = iota + 1
	opRemove
)

// entry is one journal record: a pending store or remove, still in
// flight toward the wrapped consensus. resolver and fallback are held
// only in memory — a closure cannot cross a restart, so replayed
// entries always carry resolver == nil, fallback == nil; a conflict is
// retried unresolved until MaxRetries is spent and then surfaces as a
// dropped entry (see Async.Drops).
type entry struct {
	index    uint64
	addr     address.Address
	kind     opKind
	block    block.Block
	mode     silo.Mode
	sig      block.RemoveSignature
	resolver Resolver
	fallback Resolver
	hop      int
	attempts int

	supersededFlag bool
}

// wireEntry is entry's on-disk shape; block.Block is an interface so it
// goes through block.EncodeBlock, the same dispatch-by-Kind convention
// used for the wire envelope and for Paxos's own persisted Value.
type wireEntry struct {
	Index     uint64
	Addr      address.Address
	Kind      opKind
	Mode      silo.Mode
	BlockWire []byte
	HasSig    bool
	Sig       block.RemoveSignature
}

func encodeEntry(e *entry) ([]byte, error) {
	we := wireEntry{Index: e.index, Addr: e.addr, Kind: e.kind, Mode: e.mode}
	if e.kind == opSet && e.block != nil {
		data, err := block.EncodeBlock(e.block)
		if err != nil {
			return nil, fmt.Errorf("async: encode entry block: %w", err)
		}
		we.BlockWire = data
	}
	if e.kind == opRemove {
		we.HasSig = true
		we.Sig = e.sig
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(we); err != nil {
		return nil, fmt.Errorf("async: encode entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (*entry, error) {
	var we wireEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&we); err != nil {
		return nil, fmt.Errorf("async: decode entry: %w", err)
	}
	e := &entry{index: we.Index, addr: we.Addr, kind: we.Kind, mode: we.Mode}
	if we.Kind == opSet && len(we.BlockWire) > 0 {
		b, err := block.DecodeBlock(we.BlockWire)
		if err != nil {
			return nil, fmt.Errorf("async: decode entry block: %w", err)
		}
		e.block = b
	}
	if we.HasSig {
		e.sig = we.Sig
	}
	return e, nil
}

// journalPath returns the path an entry at index is persisted under,
// following the Silo filesystem backend's temp-then-rename convention.
func journalPath(dir string, index uint64) string {
	return filepath.Join(dir, strconv.FormatUint(index, 10))
}

func writeJournalEntry(dir string, e *entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return err
	}
	path := journalPath(dir, e.index)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("async: write journal entry: %w", err)
	}
	_, werr := f.Write(data)
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("async: write journal entry: %w", werr)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("async: commit journal entry: %w", err)
	}
	return nil
}

func removeJournalEntry(dir string, index uint64) error {
	err := os.Remove(journalPath(dir, index))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("async: remove journal entry: %w", err)
	}
	return nil
}

func readJournalEntry(dir string, index uint64) (*entry, error) {
	data, err := os.ReadFile(journalPath(dir, index))
	if err != nil {
		return nil, fmt.Errorf("async: read journal entry: %w", err)
	}
	return decodeEntry(data)
}

// listJournalIndices scans dir for numerically-named entry files,
// returning their indices sorted ascending. Foreign files (including
// leftover .tmp files from a crash mid-write) are skipped.
func listJournalIndices(dir string) ([]uint64, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("async: read journal dir: %w", err)
	}
	indices := make([]uint64, 0, len(files))
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		idx, err := strconv.ParseUint(f.Name(), 10, 64)
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices, nil
}
