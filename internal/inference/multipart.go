package inference

import (
	"bytes"
	"mime/multipart"
)

// multipartWriter is a thin wrapper over mime/multipart.Writer so call
// sites in client.go read as plain verbs (writeField/writeFile/close)
// instead of inline multipart boilerplate.
type multipartWriter struct {
	w *multipart.Writer
}

func newMultipartWriter(buf *bytes.Buffer) *multipartWriter {
	return &multipartWriter{w: multipart.NewWriter(buf)}
}

func (m *multipartWriter) writeField(name, value string) error {
	return m.w.WriteField(name, value)
}

func (m *multipartWriter) writeFile(field, filename string, content []byte) error {
	part, err := m.w.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	_, err = part.Write(content)
	return err
}

func (m *multipartWriter) close() error {
	return m.w.Close()
}

func (m *multipartWriter) contentType() string {
	return m.w.FormDataContentType()
}
