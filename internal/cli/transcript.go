package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// transcript tees every stream record into an NDJSON file so a session can
// be analyzed or re-rendered later. Records are written in emit order;
// buffered writes are flushed on Close.
type transcript struct {
	path string
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

func openTranscript(path string) (*transcript, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create transcript directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create transcript: %w", err)
	}
	buf := bufio.NewWriter(f)
	return &transcript{path: path, file: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func (t *transcript) Write(record any) error {
	if t == nil {
		return nil
	}
	return t.enc.Encode(record)
}

func (t *transcript) Close() error {
	if t == nil {
		return nil
	}
	if err := t.buf.Flush(); err != nil {
		t.file.Close()
		return err
	}
	return t.file.Close()
}
