package httpclient

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"testing"

	"github.com/kbukum/fetchkit/transport/transporttest"
)

func TestEncodeParametersKeepsOrder(t *testing.T) {
	got := encodeParameters(Params("z", "1", "a", "x y", "z", "2&3"))
	if got != "z=1&a=x+y&z=2%263" {
		t.Errorf("got %q", got)
	}
	if encodeParameters(nil) != "" {
		t.Error("empty params should encode to nothing")
	}
}

func TestParamsIgnoresTrailingKey(t *testing.T) {
	if got := Params("a", "1", "dangling"); len(got) != 1 {
		t.Errorf("got %v", got)
	}
}

func lastSpecBody(t *testing.T, opts ...Option) (string, string) {
	t.Helper()
	h := transporttest.NewHandle()
	s := fakeSession(h, opts...)
	defer s.Close()
	if _, err := s.Post(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	spec := h.Specs()[0]
	return string(spec.Body), Header(spec.Header).Get("Content-Type")
}

func TestWithPayload(t *testing.T) {
	body, ctype := lastSpecBody(t, WithPayload(Params("name", "a b", "n", "1")...))
	if body != "name=a+b&n=1" || ctype != "application/x-www-form-urlencoded" {
		t.Errorf("body=%q ctype=%q", body, ctype)
	}
}

func TestExplicitContentTypeWins(t *testing.T) {
	_, ctype := lastSpecBody(t, WithJSON(1), WithHeader("Content-Type", "application/vnd.api+json"))
	if ctype != "application/vnd.api+json" {
		t.Errorf("ctype = %q", ctype)
	}
}

func TestWithBodyClearsEncodingError(t *testing.T) {
	body, ctype := lastSpecBody(t, WithJSON(make(chan int)), WithBody([]byte("raw")))
	if body != "raw" || ctype != "" {
		t.Errorf("body=%q ctype=%q", body, ctype)
	}
}

func TestWithMultipart(t *testing.T) {
	body, ctype := lastSpecBody(t, WithMultipart(&MultipartBody{
		Fields: Params("title", "report"),
		Files: []FileField{
			{FieldName: "doc", FileName: `a"b.txt`, ContentType: "text/plain", Data: []byte("hello")},
			{FieldName: "blob", FileName: "x.bin", Reader: strings.NewReader("bytes")},
		},
	}))

	mediaType, params, err := mime.ParseMediaType(ctype)
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("content type %q: %v", ctype, err)
	}
	r := multipart.NewReader(bytes.NewReader([]byte(body)), params["boundary"])

	want := []struct{ name, file, ctype, data string }{
		{"title", "", "", "report"},
		{"doc", `a"b.txt`, "text/plain", "hello"},
		{"blob", "x.bin", "application/octet-stream", "bytes"},
	}
	for _, w := range want {
		part, err := r.NextPart()
		if err != nil {
			t.Fatalf("part %s: %v", w.name, err)
		}
		data, _ := io.ReadAll(part)
		if part.FormName() != w.name || part.FileName() != w.file || string(data) != w.data {
			t.Errorf("part = %s/%s/%q", part.FormName(), part.FileName(), data)
		}
		if w.ctype != "" && part.Header.Get("Content-Type") != w.ctype {
			t.Errorf("%s content type = %q", w.name, part.Header.Get("Content-Type"))
		}
	}
	if _, err := r.NextPart(); err != io.EOF {
		t.Errorf("expected end of parts, got %v", err)
	}
}
