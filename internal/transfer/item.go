package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ItemKind tags the payload an Item carries.
type ItemKind int

const (
	ItemFile ItemKind = iota
	ItemBytes
	ItemStream
)

func (k ItemKind) String() string {
	switch k {
	case ItemFile:
		return "file"
	case ItemBytes:
		return "bytes"
	case ItemStream:
		return "stream"
	default:
		return fmt.Sprintf("ItemKind(%d)", int(k))
	}
}

// Item is a source of upload content: a file path, a byte slice or a reader.
type Item struct {
	Extension string
	Name      string

	kind   ItemKind
	path   string
	data   []byte
	stream io.Reader
	size   int64

	// start is where a seekable stream is rewound to on every Open.
	start    int64
	seekable bool
	consumed bool
}

// NewFileItem derives extension and display name from the file name. Files
// without a suffix are uploaded with extension "none".
func NewFileItem(path string) (*Item, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, invalidInput("file item", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, invalidInput("file item", fmt.Errorf("the provided file does not exist: %w", err))
	}
	if info.IsDir() {
		return nil, invalidInput("file item", fmt.Errorf("%s is a directory", abs))
	}

	base := filepath.Base(abs)
	ext := filepath.Ext(base)
	item := &Item{kind: ItemFile, path: abs, size: info.Size()}
	if ext == "" || ext == base {
		item.Extension = "none"
		item.Name = base
	} else {
		item.Extension = ext[1:]
		item.Name = strings.TrimSuffix(base, ext)
	}
	if err := validateExtension(item.Extension); err != nil {
		return nil, invalidInput("file item", err)
	}
	return item, nil
}

func NewBytesItem(data []byte, extension, name string) (*Item, error) {
	extension = strings.TrimPrefix(extension, ".")
	if err := validateExtension(extension); err != nil {
		return nil, invalidInput("bytes item", err)
	}
	return &Item{kind: ItemBytes, data: data, size: int64(len(data)), Extension: extension, Name: name}, nil
}

// NewStreamItem wraps r. size may be -1; the length is then taken from
// io.Seeker or, failing that, by buffering r in memory when opened.
// A seekable r is rewound to its current offset on every Open. A sized
// reader that cannot seek can be opened only once.
func NewStreamItem(r io.Reader, size int64, extension, name string) (*Item, error) {
	if r == nil {
		return nil, invalidInput("stream item", errors.New("reader is nil"))
	}
	extension = strings.TrimPrefix(extension, ".")
	if err := validateExtension(extension); err != nil {
		return nil, invalidInput("stream item", err)
	}
	item := &Item{kind: ItemStream, stream: r, size: size, Extension: extension, Name: name}
	if s, ok := r.(io.Seeker); ok {
		if start, err := s.Seek(0, io.SeekCurrent); err == nil {
			item.start, item.seekable = start, true
		}
	}
	return item, nil
}

func (it *Item) Kind() ItemKind { return it.kind }

// Path returns the absolute source path of a file item and "" otherwise.
func (it *Item) Path() string { return it.path }

// Open returns a reader positioned at the start of the payload and its length.
// Stream items hand out the caller's reader; closing it is a no-op.
// Every call yields the full payload again, except for a sized stream that
// cannot seek, which fails with ErrInvalidState once it has been read.
func (it *Item) Open() (io.ReadCloser, int64, error) {
	switch it.kind {
	case ItemFile:
		f, err := os.Open(it.path)
		if err != nil {
			return nil, 0, invalidInput("open item", err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, invalidInput("open item", err)
		}
		return f, info.Size(), nil
	case ItemBytes:
		return io.NopCloser(bytes.NewReader(it.data)), int64(len(it.data)), nil
	case ItemStream:
		return it.openStream()
	default:
		return nil, 0, invalidInput("open item", fmt.Errorf("unknown item kind %v", it.kind))
	}
}

func (it *Item) openStream() (io.ReadCloser, int64, error) {
	if it.data != nil {
		return io.NopCloser(bytes.NewReader(it.data)), int64(len(it.data)), nil
	}
	if it.seekable {
		s := it.stream.(io.Seeker)
		if _, err := s.Seek(it.start, io.SeekStart); err != nil {
			return nil, 0, invalidInput("open item", fmt.Errorf("failed to rewind stream: %w", err))
		}
		if it.size >= 0 {
			return io.NopCloser(it.stream), it.size, nil
		}
		if size, err := remaining(s); err == nil {
			return io.NopCloser(it.stream), size, nil
		}
	}
	if it.consumed {
		return nil, 0, &Error{Op: "open item", Kind: ErrInvalidState, Err: errors.New("stream was already read and cannot be rewound")}
	}
	it.consumed = true
	if it.size >= 0 {
		return io.NopCloser(it.stream), it.size, nil
	}

	data, err := io.ReadAll(it.stream)
	if err != nil {
		return nil, 0, invalidInput("open item", fmt.Errorf("failed to buffer stream: %w", err))
	}
	if data == nil {
		data = []byte{}
	}
	it.data = data
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func remaining(s io.Seeker) (int64, error) {
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := s.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end - cur, nil
}

func validateExtension(ext string) error {
	if ext == "" {
		return errors.New("extension is required")
	}
	for _, r := range ext {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_' || r == '+':
		default:
			return fmt.Errorf("extension %q contains invalid character %q", ext, r)
		}
	}
	return nil
}

// sanitizeName drops a trailing ".<extension>" from a display name.
func sanitizeName(name, extension string) string {
	suffix := "." + extension
	if len(name) > len(suffix) && strings.EqualFold(name[len(name)-len(suffix):], suffix) {
		return name[:len(name)-len(suffix)]
	}
	return name
}
