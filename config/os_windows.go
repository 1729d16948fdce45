//go:build windows

package config

import (
	"os"
	"strings"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
	"golang.org/x/term"
)

const badNameRunes = `<>":/\|?*`

// CleanFileName strips characters Windows does not allow in file names.
func CleanFileName(in string) string {
	out := strings.Map(func(r rune) rune {
		if r == 0 || r == os.PathListSeparator || strings.ContainsRune(badNameRunes, r) {
			return -1
		}
		return r
	}, in)
	if out == "" {
		return "_bad_file_name_"
	}
	return out
}

// EnableColorOutput reports whether stream is a console able to process VT100
// escape sequences and turns that processing on. Only Windows 10 and later
// consoles qualify.
func EnableColorOutput(stream *os.File) bool {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Windows NT\CurrentVersion`, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer k.Close()

	major, _, err := k.GetIntegerValue("CurrentMajorVersionNumber")
	if err != nil || major < 10 {
		return false
	}
	if !term.IsTerminal(int(stream.Fd())) {
		return false
	}

	var mode uint32
	if err := windows.GetConsoleMode(windows.Handle(stream.Fd()), &mode); err != nil {
		return false
	}
	const enableVirtualTerminalProcessing uint32 = 0x4
	if err := windows.SetConsoleMode(windows.Handle(stream.Fd()), mode|enableVirtualTerminalProcessing); err != nil {
		return false
	}
	return true
}
