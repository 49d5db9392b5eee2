package contacts

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ParseVCard extracts the formatted name and phone numbers from one
// vCard. Only FN and TEL lines matter here; everything else in the
// card is ignored.
func ParseVCard(r io.Reader) (Contact, error) {
	var c Contact
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		// Property parameters ride on the key: "TEL;TYPE=CELL".
		if i := strings.IndexByte(key, ';'); i >= 0 {
			key = key[:i]
		}
		switch strings.ToUpper(key) {
		case "FN":
			c.Name = strings.TrimSpace(value)
		case "TEL":
			if tel := strings.TrimSpace(value); tel != "" {
				c.Addresses = append(c.Addresses, tel)
			}
		}
	}
	return c, scanner.Err()
}

// LoadVCardDir parses every .vcf file in a directory, skipping cards
// without a name or number.
func LoadVCardDir(dir string) ([]Contact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []Contact
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".vcf") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		c, err := ParseVCard(f)
		f.Close()
		if err != nil || c.Name == "" || len(c.Addresses) == 0 {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
