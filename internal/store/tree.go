package store

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/yhakbar/cln/internal/objid"
)

// Mode is the symbolic mode tag of a tree entry, per spec.md §6.
type Mode byte

const (
	ModeRegular    Mode = 'F'
	ModeExecutable Mode = 'X'
	ModeSymlink    Mode = 'L'
	ModeSubtree    Mode = 'D'
)

// Kind distinguishes blob entries from subtree entries.
type Kind byte

const (
	KindBlob Kind = 'B'
	KindTree Kind = 'T'
)

// Entry is one record of a tree manifest.
type Entry struct {
	Mode Mode
	Kind Kind
	ID   objid.ID
	Name string
}

// Tree is a parsed tree manifest: an ordered list of named entries.
type Tree struct {
	Entries []Entry
}

// Marshal serialises t into the canonical manifest format: one record
// per line, ordered by Name in byte-lexicographic order, so that two
// ingestions of the same tree produce identical bytes.
func (t *Tree) Marshal() []byte {
	entries := make([]Entry, len(t.Entries))
	copy(entries, t.Entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var buf bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&buf, "%c\t%c\t%s\t%s\n", e.Mode, e.Kind, e.ID.String(), e.Name)
	}
	return buf.Bytes()
}

// ParseTree parses the canonical manifest format produced by Marshal.
func ParseTree(data []byte) (*Tree, error) {
	var t Tree
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 4)
		if len(fields) != 4 {
			return nil, fmt.Errorf("store: malformed tree manifest at line %d: %q", lineNo, line)
		}
		if len(fields[0]) != 1 || len(fields[1]) != 1 {
			return nil, fmt.Errorf("store: malformed tree manifest at line %d: %q", lineNo, line)
		}
		mode := Mode(fields[0][0])
		kind := Kind(fields[1][0])
		switch mode {
		case ModeRegular, ModeExecutable, ModeSymlink, ModeSubtree:
		default:
			return nil, fmt.Errorf("store: malformed tree manifest at line %d: unknown mode %q", lineNo, fields[0])
		}
		switch kind {
		case KindBlob, KindTree:
		default:
			return nil, fmt.Errorf("store: malformed tree manifest at line %d: unknown kind %q", lineNo, fields[1])
		}
		id, err := objid.Validate(fields[2])
		if err != nil {
			return nil, fmt.Errorf("store: malformed tree manifest at line %d: %w", lineNo, err)
		}
		t.Entries = append(t.Entries, Entry{Mode: mode, Kind: kind, ID: id, Name: fields[3]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return &t, nil
}
