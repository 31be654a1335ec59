package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ============================================================
// Group-code scanner
// ============================================================

// Pair - пара "групповой код / значение" ASCII DXF.
type Pair struct {
	Code  int
	Value string
	Line  int // строка с групповым кодом
}

func (p Pair) Is(code int, value string) bool {
	return p.Code == code && p.Value == value
}

// SyntaxError - строка, где ожидался групповой код, не является числом.
type SyntaxError struct {
	Line int
	Text string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: invalid group code %q", e.Line, e.Text)
}

// ErrTruncated - файл оборвался между кодом и значением.
var ErrTruncated = errors.New("unexpected end of file")

type Scanner struct {
	r      *bufio.Reader
	line   int
	peeked *Pair
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next возвращает следующую пару или io.EOF.
func (s *Scanner) Next() (Pair, error) {
	if s.peeked != nil {
		p := *s.peeked
		s.peeked = nil
		return p, nil
	}

	var codeText string
	for {
		text, err := s.readLine()
		if err != nil {
			return Pair{}, err
		}
		codeText = strings.TrimSpace(text)
		if codeText != "" {
			break
		}
	}
	codeLine := s.line

	code, err := strconv.Atoi(codeText)
	if err != nil {
		return Pair{}, &SyntaxError{Line: codeLine, Text: codeText}
	}

	value, err := s.readLine()
	if err == io.EOF {
		return Pair{}, fmt.Errorf("line %d: %w", codeLine, ErrTruncated)
	}
	if err != nil {
		return Pair{}, err
	}
	return Pair{Code: code, Value: strings.TrimSpace(value), Line: codeLine}, nil
}

// Peek возвращает следующую пару, не продвигаясь.
func (s *Scanner) Peek() (Pair, error) {
	if s.peeked != nil {
		return *s.peeked, nil
	}
	p, err := s.Next()
	if err != nil {
		return Pair{}, err
	}
	s.peeked = &p
	return p, nil
}

// Resync пропускает строки до следующей записи после синтаксической ошибки.
// Строка "0" принимается за код, только если за ней идет имя записи:
// значения 0 у кодов 70, 20, 30 встречаются постоянно.
func (s *Scanner) Resync() error {
	s.peeked = nil
	text, err := s.readLine()
	for {
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) != "0" {
			text, err = s.readLine()
			continue
		}
		codeLine := s.line
		value, err2 := s.readLine()
		if err2 != nil {
			return err2
		}
		if v := strings.TrimSpace(value); isRecordName(v) {
			s.peeked = &Pair{Code: 0, Value: v, Line: codeLine}
			return nil
		}
		// строка значения сама может оказаться кодом 0
		text = value
	}
}

// isRecordName - похоже ли значение на имя записи (LINE, ENDSEC, 3DFACE).
func isRecordName(v string) bool {
	if v == "" || strings.ContainsAny(v, " \t") {
		return false
	}
	_, err := strconv.ParseFloat(v, 64)
	return err != nil
}

func (s *Scanner) readLine() (string, error) {
	text, err := s.r.ReadString('\n')
	if err != nil && (err != io.EOF || text == "") {
		return "", err
	}
	s.line++
	if s.line == 1 {
		text = strings.TrimPrefix(text, "\ufeff")
	}
	return strings.TrimRight(text, "\r\n"), nil
}
