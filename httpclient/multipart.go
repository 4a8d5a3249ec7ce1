package httpclient

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// MultipartBody is a multipart/form-data request body.
type MultipartBody struct {
	// Fields are simple form fields, sent in order.
	Fields []Parameter
	// Files are file upload fields.
	Files []FileField
}

// FileField is a file to upload in a multipart request.
type FileField struct {
	// FieldName is the form field name (e.g., "file", "avatar").
	FieldName string
	// FileName is the file name sent to the server.
	FileName string
	// ContentType is the MIME type. If empty, uses application/octet-stream.
	ContentType string
	// Data is the file content. Used if Reader is nil.
	Data []byte
	// Reader is read to the end when the option is applied.
	Reader io.Reader
}

// encode builds the multipart body and returns it with its content type.
func (m *MultipartBody) encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range m.Fields {
		if err := w.WriteField(f.Key, f.Value); err != nil {
			return nil, "", err
		}
	}

	for _, f := range m.Files {
		var part io.Writer
		var err error
		if f.ContentType != "" {
			header := make(textproto.MIMEHeader)
			header.Set("Content-Disposition",
				`form-data; name="`+escapeQuotes(f.FieldName)+`"; filename="`+escapeQuotes(f.FileName)+`"`)
			header.Set("Content-Type", f.ContentType)
			part, err = w.CreatePart(header)
		} else {
			part, err = w.CreateFormFile(f.FieldName, f.FileName)
		}
		if err != nil {
			return nil, "", err
		}

		switch {
		case f.Data != nil:
			_, err = part.Write(f.Data)
		case f.Reader != nil:
			_, err = io.Copy(part, f.Reader)
		}
		if err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
