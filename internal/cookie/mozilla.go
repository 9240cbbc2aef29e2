package cookie

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// mozillaHeader is the first line of a cookies.txt file. Curl and Wget both
// check for the "Netscape" marker before parsing.
const mozillaHeader = "# Netscape HTTP Cookie File"

// Save writes the jar in Mozilla cookies.txt format. Session cookies are
// included only when the jar was built with WithKeepSessionCookies.
func (j *Jar) Save(w io.Writer) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()

	var entries []*entry
	for _, e := range j.entries {
		if e.expired(now) {
			continue
		}
		if e.session && !j.keepSession {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].seq < entries[b].seq })

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, mozillaHeader)
	fmt.Fprintln(bw, "# This file was generated by webgrab. Edit at your own risk.")
	fmt.Fprintln(bw)
	for _, e := range entries {
		domain := e.domain
		includeSub := "FALSE"
		if !e.hostOnly {
			domain = "." + domain
			includeSub = "TRUE"
		}
		secure := "FALSE"
		if e.secure {
			secure = "TRUE"
		}
		var expiry int64
		if !e.session {
			expiry = e.expires.Unix()
		}
		fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			domain, includeSub, e.path, secure, expiry, e.name, e.value)
	}
	return bw.Flush()
}

// SaveFile writes the jar to path in cookies.txt format.
func (j *Jar) SaveFile(path string) error {
	f, err := os.Create(path) //nolint:gosec // user-provided cookie path
	if err != nil {
		return fmt.Errorf("failed to create cookie file: %w", err)
	}
	if err := j.Save(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Load reads cookies in Mozilla cookies.txt format into the jar.
// Malformed lines are skipped, matching Wget's permissive loader.
func (j *Jar) Load(r io.Reader) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		httpOnly := false
		// Curl marks HttpOnly cookies with a "#HttpOnly_" prefix.
		if rest, ok := strings.CutPrefix(line, "#HttpOnly_"); ok {
			line = rest
			httpOnly = true
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 6 {
			continue
		}
		// The value column may be empty, leaving only six fields.
		value := ""
		if len(fields) >= 7 {
			value = fields[6]
		}

		expiry, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			continue
		}

		e := &entry{
			name:     fields[5],
			value:    value,
			domain:   strings.ToLower(strings.TrimPrefix(fields[0], ".")),
			path:     fields[2],
			secure:   strings.EqualFold(fields[3], "TRUE"),
			httpOnly: httpOnly,
			hostOnly: !strings.HasPrefix(fields[0], "."),
			created:  now,
			seq:      j.nextSeq,
		}
		j.nextSeq++
		if expiry == 0 {
			e.session = true
		} else {
			e.expires = timeUnix(expiry)
			if e.expired(now) {
				continue
			}
		}
		if len(e.name)+len(e.value) > MaxCookieBytes {
			continue
		}
		j.entries[e.key()] = e
	}
	return scanner.Err()
}

// LoadFile reads cookies from path. A missing file is an error: the user
// asked for specific cookies and silently starting without them would
// change request semantics.
func (j *Jar) LoadFile(path string) error {
	f, err := os.Open(path) //nolint:gosec // user-provided cookie path
	if err != nil {
		return fmt.Errorf("failed to open cookie file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file
	return j.Load(f)
}

func timeUnix(sec int64) time.Time {
	return time.Unix(sec, 0)
}
