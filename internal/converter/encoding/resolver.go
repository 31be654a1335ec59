package encoding

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"wallcalc/internal/converter/models"
)

// ============================================================
// Errors
// ============================================================

// ReexportHint - совет пользователю при фатальной ошибке декодирования.
const ReexportHint = "re-export the drawing as ASCII DXF (AutoCAD 2018 or older) or convert DWG to DXF first"

// ErrReplacement - декодер встретил недопустимую для кодировки последовательность.
var ErrReplacement = errors.New("invalid byte sequence")

// DecodeError - файл не удалось декодировать ни одной кодировкой.
type DecodeError struct {
	Reason   string
	Attempts []models.EncodingAttempt
	Err      error
}

func (e *DecodeError) Error() string {
	msg := "decode: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg + " (" + ReexportHint + ")"
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ============================================================
// Options
// ============================================================

type options struct {
	noRecovery bool
	preferred  string
}

type Option func(*options)

// WithoutRecovery отключает финальный режим с заменой символов:
// если все кодировки отказали, Resolve вернет DecodeError.
func WithoutRecovery() Option {
	return func(o *options) { o.noRecovery = true }
}

// WithPreferred ставит кодировку перед объявленной в документе
// (например, из настроек проекта).
func WithPreferred(name string) Option {
	return func(o *options) { o.preferred = name }
}

// ============================================================
// Document
// ============================================================

// Document - декодированный текст чертежа. Байты не копируются:
// каждый Open запускает потоковое декодирование с начала.
type Document struct {
	src  io.ReaderAt
	size int64
	enc  encoding.Encoding

	Encoding  string
	Declared  string
	Attempts  []models.EncodingAttempt
	Recovered bool
}

// Open возвращает новый поток декодированного текста с начала файла.
func (d *Document) Open() io.Reader {
	return transform.NewReader(io.NewSectionReader(d.src, 0, d.size), d.enc.NewDecoder())
}

func (d *Document) Size() int64 { return d.size }

// Fallback - документ прочитан не той кодировкой, которую объявил.
func (d *Document) Fallback() bool {
	if d.Recovered {
		return true
	}
	return d.Declared != "" && d.Encoding != d.Declared
}

// Apply переносит сведения о кодировке в отчет прогона.
func (d *Document) Apply(r *models.Report) {
	r.Encoding = d.Encoding
	r.DeclaredEncoding = d.Declared
	r.Attempts = append(r.Attempts, d.Attempts...)
	r.Recovered = d.Recovered
	r.Fallback = d.Fallback()
	if r.Fallback {
		r.Warn(fmt.Sprintf("text decoded as %s instead of declared %q", d.Encoding, d.Declared))
	}
}

// ============================================================
// Resolver
// ============================================================

// Resolve подбирает кодировку: объявленная, utf-8, cp950, gbk, затем
// режим восстановления с заменой символов. Каждая попытка - один
// потоковый проход по файлу.
func Resolve(src io.ReaderAt, size int64, opts ...Option) (*Document, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := checkBinary(src); err != nil {
		return nil, err
	}

	decl := sniffDeclaration(io.NewSectionReader(src, 0, size))
	doc := &Document{src: src, size: size, Declared: decl.encoding()}

	var ioErr error
	for _, name := range candidates(o.preferred, doc.Declared) {
		err := tryDecode(io.NewSectionReader(src, 0, size), codecs[name])
		if err == nil {
			doc.Encoding = name
			doc.enc = codecs[name]
			doc.Attempts = append(doc.Attempts, models.EncodingAttempt{Encoding: name})
			break
		}
		doc.Attempts = append(doc.Attempts, models.EncodingAttempt{Encoding: name, Error: err.Error()})
		if !errors.Is(err, ErrReplacement) {
			ioErr = err
			break
		}
	}

	switch {
	case ioErr != nil:
		return nil, &DecodeError{Reason: "read failed", Attempts: doc.Attempts, Err: ioErr}
	case doc.enc == nil && o.noRecovery:
		return nil, &DecodeError{Reason: "all encodings failed", Attempts: doc.Attempts}
	case doc.enc == nil:
		// восстановление: UTF-8 с заменой недопустимых байтов на U+FFFD
		doc.Encoding = Recovery
		doc.enc = unicode.UTF8
		doc.Recovered = true
		doc.Attempts = append(doc.Attempts, models.EncodingAttempt{Encoding: Recovery})
	}

	if err := checkStructure(doc.Open()); err != nil {
		return nil, &DecodeError{Reason: "no group-code structure", Attempts: doc.Attempts, Err: err}
	}
	return doc, nil
}

// ResolveBytes - Resolve для данных в памяти.
func ResolveBytes(data []byte, opts ...Option) (*Document, error) {
	return Resolve(bytes.NewReader(data), int64(len(data)), opts...)
}

func candidates(preferred, declared string) []string {
	list := make([]string, 0, 5)
	seen := make(map[string]bool)
	add := func(name string) {
		if name == "" || seen[name] || !Known(name) {
			return
		}
		seen[name] = true
		list = append(list, name)
	}
	add(preferred)
	add(declared)
	for _, name := range fallbackChain {
		add(name)
	}
	return list
}

// tryDecode декодирует весь поток; любая замена символа - отказ кодировки.
func tryDecode(r io.Reader, enc encoding.Encoding) error {
	br := bufio.NewReaderSize(transform.NewReader(r, enc.NewDecoder()), 64*1024)
	for {
		c, size, err := br.ReadRune()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if c == utf8.RuneError && size == 3 {
			return ErrReplacement
		}
	}
}

// checkStructure проверяет, что первая непустая строка - групповой код.
func checkStructure(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if line == "" {
			continue
		}
		if _, err := strconv.Atoi(line); err != nil {
			return fmt.Errorf("first line %q is not a group code", truncate(line, 32))
		}
		return nil
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return errors.New("empty document")
}

// ============================================================
// Binary formats
// ============================================================

var binaryDXFSentinel = []byte("AutoCAD Binary DXF")

func checkBinary(src io.ReaderAt) error {
	head := make([]byte, 32)
	n, err := src.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return &DecodeError{Reason: "read failed", Err: err}
	}
	head = head[:n]

	if bytes.HasPrefix(head, binaryDXFSentinel) {
		return &DecodeError{Reason: "binary DXF is not supported"}
	}
	if len(head) >= 6 && bytes.HasPrefix(head, []byte("AC1")) && isDigits(head[3:6]) {
		return &DecodeError{Reason: fmt.Sprintf("DWG file (version %s) is not supported", head[:6])}
	}
	return nil
}

func isDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
