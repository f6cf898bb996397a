package executor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	textunicode "golang.org/x/text/encoding/unicode"
)

// TLSPreamble forces TLS 1.2 for .NET web clients in Windows PowerShell.
const TLSPreamble = "[Net.ServicePointManager]::SecurityProtocol = [Net.SecurityProtocolType]::Tls12"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// IsPowerShell reports whether interpreter belongs to the PowerShell family.
func IsPowerShell(interpreter string) bool {
	name := strings.ToLower(interpreter)
	return strings.Contains(name, "powershell") || strings.Contains(name, "pwsh")
}

func ScriptSuffix(interpreter string) string {
	if IsPowerShell(interpreter) {
		return ".ps1"
	}
	return ".sh"
}

// ScriptArgs returns the interpreter arguments that run the script at path.
func ScriptArgs(interpreter, path string) []string {
	if IsPowerShell(interpreter) {
		return []string{"-File", path}
	}
	return []string{path}
}

// DecodeScript turns the base64 body of a command request into the file
// contents for interpreter. PowerShell bodies are UTF-16LE and gain the TLS
// preamble when it is absent; everything else must be UTF-8.
func DecodeScript(commands, interpreter string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(stripSpace(commands))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	if !IsPowerShell(interpreter) {
		if !utf8.Valid(raw) {
			return nil, errors.New("script body is not valid UTF-8")
		}
		return raw, nil
	}

	text, err := textunicode.UTF16(textunicode.LittleEndian, textunicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode UTF-16LE: %w", err)
	}
	script := string(text)
	if !strings.Contains(script, TLSPreamble) {
		script = TLSPreamble + "\n" + script
	}
	return append(append([]byte(nil), utf8BOM...), script...), nil
}

// EncodeScript is the inverse of DecodeScript for the body alone.
func EncodeScript(script, interpreter string) (string, error) {
	raw := []byte(script)
	if IsPowerShell(interpreter) {
		var err error
		raw, err = textunicode.UTF16(textunicode.LittleEndian, textunicode.IgnoreBOM).NewEncoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("encode UTF-16LE: %w", err)
		}
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
