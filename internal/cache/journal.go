package cache

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Journal file names and header values. The header pins the format version
// and the single value slot per key; a directory whose header disagrees is
// wiped on open.
const (
	journalFile   = "journal"
	journalTmp    = "journal.tmp"
	journalBackup = "journal.bkp"

	journalMagic   = "libcore.io.DiskLruCache"
	journalVersion = "1"
	valueCount     = 1
)

// Journal record kinds.
const (
	opClean  = "CLEAN"
	opDirty  = "DIRTY"
	opRemove = "REMOVE"
	opRead   = "READ"
)

// journalRecord is one parsed journal line.
type journalRecord struct {
	op     string
	key    string
	length int64
}

// String renders the record as a journal line without the newline.
func (r journalRecord) String() string {
	if r.op == opClean {
		return fmt.Sprintf("%s %s %d", r.op, r.key, r.length)
	}
	return r.op + " " + r.key
}

// writeJournalHeader writes the five header lines.
func writeJournalHeader(w io.Writer, appVersion int) error {
	_, err := fmt.Fprintf(w, "%s\n%s\n%d\n%d\n\n", journalMagic, journalVersion, appVersion, valueCount)
	return err
}

// journalScan holds the result of reading a journal.
type journalScan struct {
	records []journalRecord
	// truncated is set when the final line had no terminating newline,
	// which happens when the process died mid-append.
	truncated bool
}

// readJournal validates the header and parses every complete record line.
func readJournal(r io.Reader, appVersion int) (*journalScan, error) {
	br := bufio.NewReader(r)

	want := []string{journalMagic, journalVersion, strconv.Itoa(appVersion), strconv.Itoa(valueCount), ""}
	for i, expected := range want {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("journal header truncated at line %d: %w", i+1, err)
		}
		if got := strings.TrimSuffix(line, "\n"); got != expected {
			return nil, fmt.Errorf("unexpected journal header line %d: %q", i+1, got)
		}
	}

	scan := &journalScan{}
	for {
		line, err := br.ReadString('\n')
		if err == io.EOF {
			if line != "" {
				scan.truncated = true
			}
			return scan, nil
		}
		if err != nil {
			return nil, err
		}

		rec, err := parseJournalLine(strings.TrimSuffix(line, "\n"))
		if err != nil {
			return nil, err
		}
		scan.records = append(scan.records, rec)
	}
}

func parseJournalLine(line string) (journalRecord, error) {
	fields := strings.Split(line, " ")
	if len(fields) < 2 {
		return journalRecord{}, fmt.Errorf("unexpected journal line: %q", line)
	}

	rec := journalRecord{op: fields[0], key: fields[1]}
	switch rec.op {
	case opClean:
		if len(fields) != 2+valueCount {
			return journalRecord{}, fmt.Errorf("unexpected journal line: %q", line)
		}
		n, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || n < 0 {
			return journalRecord{}, fmt.Errorf("unexpected journal line: %q", line)
		}
		rec.length = n
	case opDirty, opRemove, opRead:
		if len(fields) != 2 {
			return journalRecord{}, fmt.Errorf("unexpected journal line: %q", line)
		}
	default:
		return journalRecord{}, fmt.Errorf("unexpected journal line: %q", line)
	}
	return rec, nil
}
