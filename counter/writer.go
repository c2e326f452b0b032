package counter

import "io"

type Writer struct {
	count  int64
	writer io.Writer

	onWrite CountCallback
}

func NewWriter(writer io.Writer) *Writer {
	return &Writer{writer: writer}
}

func NewWriterCallback(onWrite CountCallback, writer io.Writer) *Writer {
	return &Writer{
		writer:  writer,
		onWrite: onWrite,
	}
}

func (w *Writer) Count() int64 {
	return w.count
}

func (w *Writer) Write(buffer []byte) (n int, err error) {
	if w.writer == nil {
		n = len(buffer)
	} else {
		n, err = w.writer.Write(buffer)
	}

	w.count += int64(n)
	if w.onWrite != nil {
		w.onWrite(w.count)
	}
	return
}

func (w *Writer) Close() error {
	return nil
}
