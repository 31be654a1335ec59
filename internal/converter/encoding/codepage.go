package encoding

import (
	"bufio"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// ============================================================
// Code pages
// ============================================================

const (
	UTF8     = "utf-8"
	CP950    = "cp950"
	GBK      = "gbk"
	Recovery = "recovery"
)

// fallbackChain - канонический набор после объявленной кодировки.
var fallbackChain = []string{UTF8, CP950, GBK}

var codecs = map[string]encoding.Encoding{
	UTF8:     unicode.UTF8,
	CP950:    traditionalchinese.Big5,
	GBK:      simplifiedchinese.GBK,
	"cp932":  japanese.ShiftJIS,
	"cp949":  korean.EUCKR,
	"cp874":  charmap.Windows874,
	"cp1250": charmap.Windows1250,
	"cp1251": charmap.Windows1251,
	"cp1252": charmap.Windows1252,
	"cp1253": charmap.Windows1253,
	"cp1254": charmap.Windows1254,
	"cp1255": charmap.Windows1255,
	"cp1256": charmap.Windows1256,
	"cp1257": charmap.Windows1257,
	"cp1258": charmap.Windows1258,
}

// Known сообщает, поддерживается ли кодировка с таким именем.
func Known(name string) bool {
	_, ok := codecs[name]
	return ok
}

// CodePageName переводит значение $DWGCODEPAGE в имя кодировки.
// Возвращает "" для неизвестных кодовых страниц.
func CodePageName(codePage string) string {
	cp := strings.ToLower(strings.TrimSpace(codePage))
	switch cp {
	case "", "dos437", "ansi_437":
		return ""
	case "utf-8", "utf8", "ansi_65001":
		return UTF8
	case "ansi_936", "gb2312", "gbk":
		return GBK
	case "ansi_950", "big5":
		return CP950
	}
	if n, ok := strings.CutPrefix(cp, "ansi_"); ok {
		if Known("cp" + n) {
			return "cp" + n
		}
	}
	return ""
}

// versionUsesUTF8: начиная с AC1021 (2007) текст в DXF хранится в UTF-8.
func versionUsesUTF8(version string) bool {
	v := strings.ToUpper(strings.TrimSpace(version))
	return len(v) == 6 && strings.HasPrefix(v, "AC") && v >= "AC1021"
}

// ============================================================
// Header sniffing
// ============================================================

// declaration - то, что документ сам говорит о своей кодировке.
type declaration struct {
	Version  string
	CodePage string
}

func (d declaration) encoding() string {
	if versionUsesUTF8(d.Version) {
		return UTF8
	}
	return CodePageName(d.CodePage)
}

// maxSniffLines ограничивает поиск объявлений в HEADER.
const maxSniffLines = 4096

// sniffDeclaration читает сырые байты HEADER до ENDSEC. Имена переменных
// и их значения - ASCII, поэтому декодер для этого не нужен.
func sniffDeclaration(r io.Reader) declaration {
	var d declaration
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	var pending string
	skip := 0
	for i := 0; i < maxSniffLines && sc.Scan(); i++ {
		line := strings.TrimSpace(sc.Text())
		if pending != "" {
			// первая строка после имени переменной - групповой код
			if skip > 0 {
				skip--
				continue
			}
			if pending == "$ACADVER" {
				d.Version = line
			} else {
				d.CodePage = line
			}
			pending = ""
			if d.Version != "" && d.CodePage != "" {
				return d
			}
			continue
		}
		switch line {
		case "ENDSEC", "ENTITIES":
			return d
		case "$ACADVER", "$DWGCODEPAGE":
			pending, skip = line, 1
		}
	}
	return d
}
