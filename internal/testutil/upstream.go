package testutil

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"sync"
	"testing"
)

var blookCommand = regexp.MustCompile(`//blook (\d+)`)

// FakeUpstream is a scripted game server speaking the NUL framed protocol on localhost.
type FakeUpstream struct {
	listener net.Listener

	mu          sync.Mutex
	logins      int
	fetches     map[int64]int
	drops       map[int64]int
	silent      map[int64]bool
	rejectLogin bool
	conns       []net.Conn

	wg sync.WaitGroup
}

// NewFakeUpstream starts the server and stops it when the test ends.
func NewFakeUpstream(t testing.TB) *FakeUpstream {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("couldn't start the fake upstream: %v", err)
	}

	f := &FakeUpstream{
		listener: lis,
		fetches:  make(map[int64]int),
		drops:    make(map[int64]int),
		silent:   make(map[int64]bool),
	}

	f.wg.Add(1)
	go f.serve()
	t.Cleanup(f.Close)

	return f
}

// Host of the listener.
func (f *FakeUpstream) Host() string {
	return f.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port of the listener.
func (f *FakeUpstream) Port() int {
	return f.listener.Addr().(*net.TCPAddr).Port
}

// Addr is host:port.
func (f *FakeUpstream) Addr() string {
	return f.listener.Addr().String()
}

// RejectLogins makes every following login fail with an ERROR frame.
func (f *FakeUpstream) RejectLogins() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectLogin = true
}

// DropOn closes the connection the next times requests of battleID arrive.
func (f *FakeUpstream) DropOn(battleID int64, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drops[battleID] = times
}

// Silence never answers requests of battleID.
func (f *FakeUpstream) Silence(battleID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silent[battleID] = true
}

// Logins is the number of accepted logins.
func (f *FakeUpstream) Logins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

// Fetches is the number of requests received for battleID.
func (f *FakeUpstream) Fetches(battleID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[battleID]
}

// Close stops the listener and every open connection.
func (f *FakeUpstream) Close() {
	f.listener.Close()

	f.mu.Lock()
	for _, c := range f.conns {
		c.Close()
	}
	f.mu.Unlock()

	f.wg.Wait()
}

// FakeBattle is the battle log the server answers for battleID.
func FakeBattle(battleID int64) string {
	return fmt.Sprintf(`<BATTLE i="%d" t2="1700000000" turn="1" f="A" note="1,2,1699999900">`+
		`<USER login="alice" side="1" level="5" hp="10"/>`+
		`<TURN turn="1"><USER login="alice" hp="10"><a sf="1" t="5" login="$rat_1" HP="3"/></USER></TURN>`+
		`</BATTLE>`, battleID)
}

// FakeBlook is the FakeBattle wrapped the way the server sends it.
func FakeBlook(battleID int64) string {
	return "<BLOOK>" + FakeBattle(battleID) + "</BLOOK>"
}

func (f *FakeUpstream) serve() {
	defer f.wg.Done()

	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}

		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()

		f.wg.Add(1)
		go f.handle(conn)
	}
}

func (f *FakeUpstream) handle(conn net.Conn) {
	defer f.wg.Done()
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		frame, err := reader.ReadBytes(0)
		if err != nil {
			return
		}
		frame = bytes.TrimSuffix(frame, []byte{0})

		switch {
		case bytes.HasPrefix(frame, []byte("<LOGIN")):
			f.mu.Lock()
			reject := f.rejectLogin
			if !reject {
				f.logins++
			}
			f.mu.Unlock()

			if reject {
				conn.Write([]byte("<ERROR code=\"2\"/>\x00"))
				return
			}
			conn.Write([]byte("<OK l=\"ok\"/>\x00<CHAT t=\"welcome\"/>\x00"))

		case bytes.HasPrefix(frame, []byte("<GETME")):
			conn.Write([]byte("<MYPARAM level=\"5\"/>\x00"))

		case bytes.HasPrefix(frame, []byte("<POST")):
			m := blookCommand.FindSubmatch(frame)
			if m == nil {
				continue
			}
			id, _ := strconv.ParseInt(string(m[1]), 10, 64)

			f.mu.Lock()
			f.fetches[id]++
			drop := f.drops[id] > 0
			if drop {
				f.drops[id]--
			}
			silent := f.silent[id]
			f.mu.Unlock()

			if drop {
				return
			}
			if silent {
				continue
			}

			// Send the log in two chunks with an interleaved unit separator.
			blook := FakeBlook(id)
			half := len(blook) / 2
			conn.Write([]byte(blook[:half] + "\x1f"))
			conn.Write([]byte(blook[half:] + "\x00"))
		}
	}
}
