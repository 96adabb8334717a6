package store

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/chat-scribe/source"
)

const (
	recFileName = "messages.rec"
	logFileName = "messages.log"
	gapFileName = "gaps.log"
)

// FileStore keeps one directory per chat under the data dir, named
// <sanitized title>_<chat id>. messages.log is the human-readable log;
// messages.rec is the authoritative machine record (tab-separated
// id, unix ts, origin, sender, text) that recovery reads. The record is
// fsynced before the rendered line is written, so a crash between the two
// leaves a record the next ReadExisting can re-render, never a half entry.
type FileStore struct {
	dir string

	mu   sync.Mutex
	dirs map[int64]string
}

// NewFileStore creates the data dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	return &FileStore{dir: dir, dirs: make(map[int64]string)}, nil
}

var unsafeNameChars = regexp.MustCompile(`[^\w_ -]`)

// sanitizeName makes a chat title safe for filesystem use.
func sanitizeName(name string) string {
	name = strings.TrimSpace(unsafeNameChars.ReplaceAllString(name, ""))
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" {
		return "unnamed_chat"
	}
	return name
}

// chatDir resolves the directory for a chat, preferring an existing one so
// a renamed chat keeps appending to the same log across restarts.
func (s *FileStore) chatDir(chatID int64, title string, create bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.dirs[chatID]; ok {
		return d, nil
	}
	suffix := "_" + strconv.FormatInt(chatID, 10)
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+suffix))
	if err == nil && len(matches) > 0 {
		s.dirs[chatID] = matches[0]
		return matches[0], nil
	}
	if !create {
		return "", os.ErrNotExist
	}
	d := filepath.Join(s.dir, sanitizeName(title)+suffix)
	if err := os.MkdirAll(d, 0o755); err != nil {
		return "", fmt.Errorf("mkdir chat dir: %w", err)
	}
	s.dirs[chatID] = d
	return d, nil
}

// Append writes the machine record, syncs it, then renders the human line.
func (s *FileStore) Append(ctx context.Context, chat Chat, e LogEntry) error {
	dir, err := s.chatDir(chat.ID, chat.Title, true)
	if err != nil {
		return err
	}
	rec, err := os.OpenFile(filepath.Join(dir, recFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open record file: %w", err)
	}
	defer rec.Close()
	if _, err := rec.WriteString(encodeRecord(e)); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	if err := rec.Sync(); err != nil {
		return fmt.Errorf("sync record: %w", err)
	}
	logf, err := os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logf.Close()
	if _, err := logf.WriteString(FormatLine(e)); err != nil {
		return fmt.Errorf("append log line: %w", err)
	}
	return nil
}

// ReadExisting parses the record file, dropping a torn trailing record, and
// re-renders any log lines a crash left unwritten so the human log catches
// up with the authoritative record before new entries are appended.
func (s *FileStore) ReadExisting(ctx context.Context, chatID int64) ([]LogEntry, error) {
	dir, err := s.chatDir(chatID, "", false)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	entries, err := readRecords(filepath.Join(dir, recFileName))
	if err != nil {
		return nil, err
	}
	if err := s.healLog(dir, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func readRecords(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var entries []LogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		e, err := decodeRecord(sc.Text())
		if err != nil {
			// A torn tail from a crash mid-write; everything before it
			// is intact. Anything after would be unreachable anyway.
			break
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return entries, nil
}

// healLog appends rendered lines for records the log file is missing.
func (s *FileStore) healLog(dir string, entries []LogEntry) error {
	path := filepath.Join(dir, logFileName)
	have := 0
	if f, err := os.Open(path); err == nil {
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			have++
		}
		f.Close()
		if err := sc.Err(); err != nil {
			return fmt.Errorf("scan log: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	if have >= len(entries) {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, e := range entries[have:] {
		if _, err := f.WriteString(FormatLine(e)); err != nil {
			return fmt.Errorf("heal log line: %w", err)
		}
	}
	return nil
}

// RecordGap appends a note to the chat's gaps.log.
func (s *FileStore) RecordGap(ctx context.Context, chatID int64, after source.Marker, reason string) error {
	dir, err := s.chatDir(chatID, "", true)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, gapFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line := fmt.Sprintf("[%s] gap after id=%d: %s\n", time.Now().UTC().Format("2006-01-02 15:04:05"), after.MessageID, reason)
	_, err = f.WriteString(line)
	return err
}

// ListChats scans the data dir for chat directories.
func (s *FileStore) ListChats(ctx context.Context) ([]Chat, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var chats []Chat
	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		name := de.Name()
		i := strings.LastIndex(name, "_")
		if i < 0 {
			continue
		}
		id, err := strconv.ParseInt(name[i+1:], 10, 64)
		if err != nil {
			continue
		}
		chats = append(chats, Chat{ID: id, Title: strings.ReplaceAll(name[:i], "_", " ")})
	}
	return chats, nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

func (s *FileStore) Close() error { return nil }

// Record encoding: id \t unix-ts \t origin \t sender \t text, with
// backslash escapes keeping each record on one line.

func encodeRecord(e LogEntry) string {
	return strconv.FormatInt(e.MessageID, 10) + "\t" +
		strconv.FormatInt(e.Timestamp.UTC().Unix(), 10) + "\t" +
		string(e.Origin) + "\t" +
		escapeField(e.Sender) + "\t" +
		escapeField(e.Text) + "\n"
}

func decodeRecord(line string) (LogEntry, error) {
	parts := strings.Split(line, "\t")
	if len(parts) != 5 {
		return LogEntry{}, fmt.Errorf("malformed record")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return LogEntry{}, fmt.Errorf("malformed record id: %w", err)
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return LogEntry{}, fmt.Errorf("malformed record ts: %w", err)
	}
	origin := source.Origin(parts[2])
	if origin != source.OriginLive && origin != source.OriginBackfill {
		return LogEntry{}, fmt.Errorf("malformed record origin %q", parts[2])
	}
	return LogEntry{
		Origin:    origin,
		MessageID: id,
		Timestamp: time.Unix(ts, 0).UTC(),
		Sender:    unescapeField(parts[3]),
		Text:      unescapeField(parts[4]),
	}, nil
}

func escapeField(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func unescapeField(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 't':
				b.WriteByte('\t')
			case 'n':
				b.WriteByte('\n')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte(s[i+1])
			}
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// flatten keeps a message on one rendered line.
func flatten(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", " "), "\n", " ")
}
