package pkg

import (
	"encoding/binary"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
)

// A .mar archive bundles the files a pipeline run produced (test reports,
// lint output, coverage, docs) into a single compressed artifact. The layout
// is a 16 byte header, brotli-compressed file entries and a central index at
// the end.

type resultFile struct {
	offset  int32
	size    int32
	decSize int32
}

// ResultWriter writes .mar result archives
type ResultWriter struct {
	hdl    *os.File
	files  map[string]*resultFile
	buffer []byte
}

// NewResultWriter creates a new ResultWriter instance and opens it for writing
func NewResultWriter(filename string) (*ResultWriter, error) {
	hdl, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	// skip the header which consists of 4 chars and 3 int32s
	_, err = hdl.Seek(int64(4+12), io.SeekStart)
	if err != nil {
		hdl.Close()
		return nil, err
	}

	return &ResultWriter{
		hdl:    hdl,
		files:  map[string]*resultFile{},
		buffer: make([]byte, 4096),
	}, nil
}

// WriteFile creates a new entry in the archive. The name can contain slashes
// to preserve the directory layout of the packed tree.
func (w *ResultWriter) WriteFile(name string, reader io.Reader) error {
	item := new(resultFile)
	offset, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	item.offset = int32(offset)
	brw := brotli.NewWriterLevel(w.hdl, brotli.BestCompression)

	decSize, err := io.CopyBuffer(brw, reader, w.buffer)
	if err != nil {
		return err
	}

	err = brw.Close()
	if err != nil {
		return err
	}

	newPos, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	item.size = int32(newPos - offset)
	item.decSize = int32(decSize)
	w.files[name] = item

	return nil
}

// AddTree packs every regular file below dir, keeping the relative paths.
func (w *ResultWriter) AddTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		hdl, err := os.Open(path)
		if err != nil {
			return eris.Wrapf(err, "Failed to open %s", path)
		}
		defer hdl.Close()

		return w.WriteFile(filepath.ToSlash(relPath), hdl)
	})
}

// Close writes the central index and closes the archive
func (w *ResultWriter) Close() error {
	buffer := make([]byte, 48)
	tocOffset, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		w.hdl.Close()
		return err
	}

	for name, file := range w.files {
		binary.LittleEndian.PutUint32(buffer[:4], uint32(file.offset))
		binary.LittleEndian.PutUint32(buffer[4:8], uint32(file.size))
		binary.LittleEndian.PutUint32(buffer[8:12], uint32(file.decSize))
		binary.LittleEndian.PutUint16(buffer[12:14], uint16(len(name)))
		_, err := w.hdl.Write(buffer[:14])
		if err != nil {
			w.hdl.Close()
			return err
		}

		_, err = w.hdl.WriteString(name)
		if err != nil {
			w.hdl.Close()
			return err
		}
	}

	_, err = w.hdl.Seek(0, io.SeekStart)
	if err != nil {
		w.hdl.Close()
		return err
	}

	buffer[0] = 'M'
	buffer[1] = 'A'
	buffer[2] = 'R'
	buffer[3] = '1'
	binary.LittleEndian.PutUint32(buffer[4:8], 1)
	binary.LittleEndian.PutUint32(buffer[8:12], uint32(tocOffset))
	binary.LittleEndian.PutUint32(buffer[12:16], uint32(len(w.files)))

	_, err = w.hdl.Write(buffer[:16])
	if err != nil {
		w.hdl.Close()
		return err
	}

	return w.hdl.Close()
}

// ResultReader reads .mar result archives
type ResultReader struct {
	hdl   *os.File
	files map[string]*resultFile
}

// OpenResultArchive opens an existing archive and parses its index.
func OpenResultArchive(filename string) (*ResultReader, error) {
	hdl, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 16)
	_, err = io.ReadFull(hdl, header)
	if err != nil {
		hdl.Close()
		return nil, eris.Wrapf(err, "Failed to read header of %s", filename)
	}

	if string(header[:4]) != "MAR1" {
		hdl.Close()
		return nil, eris.Errorf("%s is not a result archive", filename)
	}

	tocOffset := binary.LittleEndian.Uint32(header[8:12])
	items := binary.LittleEndian.Uint32(header[12:16])

	_, err = hdl.Seek(int64(tocOffset), io.SeekStart)
	if err != nil {
		hdl.Close()
		return nil, err
	}

	files := make(map[string]*resultFile, items)
	entry := make([]byte, 14)
	for idx := uint32(0); idx < items; idx++ {
		_, err = io.ReadFull(hdl, entry)
		if err != nil {
			hdl.Close()
			return nil, eris.Wrapf(err, "Failed to read index entry %d", idx)
		}

		item := new(resultFile)
		item.offset = int32(binary.LittleEndian.Uint32(entry[:4]))
		item.size = int32(binary.LittleEndian.Uint32(entry[4:8]))
		item.decSize = int32(binary.LittleEndian.Uint32(entry[8:12]))

		nameLen := binary.LittleEndian.Uint16(entry[12:14])
		name := make([]byte, nameLen)
		_, err = io.ReadFull(hdl, name)
		if err != nil {
			hdl.Close()
			return nil, eris.Wrapf(err, "Failed to read name of index entry %d", idx)
		}

		files[string(name)] = item
	}

	return &ResultReader{hdl: hdl, files: files}, nil
}

// Names returns the paths of all archived files.
func (r *ResultReader) Names() []string {
	names := make([]string, 0, len(r.files))
	for name := range r.files {
		names = append(names, name)
	}
	return names
}

// ReadFile returns the decompressed content of the named entry.
func (r *ResultReader) ReadFile(name string) ([]byte, error) {
	item, ok := r.files[name]
	if !ok {
		return nil, eris.Errorf("no entry named %s", name)
	}

	_, err := r.hdl.Seek(int64(item.offset), io.SeekStart)
	if err != nil {
		return nil, err
	}

	content := make([]byte, item.decSize)
	_, err = io.ReadFull(brotli.NewReader(io.LimitReader(r.hdl, int64(item.size))), content)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to decompress %s", name)
	}

	return content, nil
}

// Extract unpacks the whole archive below dest.
func (r *ResultReader) Extract(dest string) error {
	for name := range r.files {
		content, err := r.ReadFile(name)
		if err != nil {
			return err
		}

		target := filepath.Join(dest, filepath.FromSlash(name))
		err = os.MkdirAll(filepath.Dir(target), 0770)
		if err != nil {
			return eris.Wrapf(err, "Failed to create directory for %s", target)
		}

		err = os.WriteFile(target, content, 0660)
		if err != nil {
			return eris.Wrapf(err, "Failed to write %s", target)
		}
	}

	return nil
}

func (r *ResultReader) Close() error {
	return r.hdl.Close()
}
