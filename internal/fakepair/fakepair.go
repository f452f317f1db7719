// Package fakepair is a stand-in receiver/sender pair for tests.
//
// Test binaries re-execute themselves as the receiver or the sender. A
// package opts in from TestMain:
//
//	func TestMain(m *testing.M) {
//		fakepair.Main()
//		os.Exit(m.Run())
//	}
//
// Payloads travel through files in a spool directory named by SpoolEnv
// rather than through signals; only the observable contract matters.
package fakepair

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

// SpoolEnv names the environment variable holding the spool directory.
const SpoolEnv = "TALKCHECK_FAKE_SPOOL"

// Roles recognised as os.Args[1].
const (
	roleReceiver = "fake-receiver"
	roleSender   = "fake-sender"
	roleSleeper  = "fake-sleeper"
)

// Receiver behaviours.
const (
	ReceiverNormal   = ""
	ReceiverSilent   = "silent"   // never prints anything
	ReceiverNoDigits = "nodigits" // announces without a number
	ReceiverStubborn = "stubborn" // ignores SIGINT
	ReceiverForks    = "forks"    // starts a long-lived child first
	ReceiverColored  = "colored"  // wraps echoed payloads in ANSI colour codes

	// ReceiverForksStubborn starts a long-lived child that ignores SIGINT.
	ReceiverForksStubborn = "forks-stubborn"
)

// Sender behaviours.
const (
	SenderNormal = ""       // delivers, prints "[ACK] ..."
	SenderQuiet  = "quiet"  // delivers, prints nothing
	SenderChatty = "chatty" // delivers, prints text without the marker
	SenderHang   = "hang"   // never delivers, sleeps past any ack timeout
)

const pollInterval = 5 * time.Millisecond

// Main runs the fake role named by os.Args[1] and exits. It returns
// without doing anything when the process is an ordinary test binary.
func Main() {
	if len(os.Args) < 2 {
		return
	}
	var mode string
	if len(os.Args) > 2 {
		mode = os.Args[2]
	}
	switch os.Args[1] {
	case roleReceiver:
		os.Exit(receiver(mode))
	case roleSender:
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "usage: fake-sender <mode> <pid> <message>")
			os.Exit(2)
		}
		os.Exit(sender(mode, os.Args[3], os.Args[4]))
	case roleSleeper:
		if mode == ReceiverStubborn {
			signal.Ignore(os.Interrupt)
		}
		path := childFile(os.Getenv(SpoolEnv), os.Getppid())
		if os.WriteFile(path+".tmp", []byte(strconv.Itoa(os.Getpid())), 0o644) == nil {
			_ = os.Rename(path+".tmp", path)
		}
		time.Sleep(time.Minute)
		os.Exit(0)
	}
}

// Pair holds argv and environment for a fake receiver and sender sharing
// one spool directory.
type Pair struct {
	Receiver []string
	Sender   []string
	Env      []string
	Spool    string
}

// New returns a Pair with the given behaviours, spooling under t.TempDir.
func New(t testing.TB, receiverMode, senderMode string) Pair {
	t.Helper()
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("locating test binary: %v", err)
	}
	spool := t.TempDir()
	return Pair{
		Receiver: []string{self, roleReceiver, receiverMode},
		Sender:   []string{self, roleSender, senderMode},
		Env:      []string{SpoolEnv + "=" + spool},
		Spool:    spool,
	}
}

// ChildPid returns the pid of the child started by a forking receiver with
// the given pid, waiting up to two seconds for the child to be ready.
func (p Pair) ChildPid(t testing.TB, receiverPid int) int {
	t.Helper()
	path := childFile(p.Spool, receiverPid)
	deadline := time.Now().Add(2 * time.Second)
	for {
		data, err := os.ReadFile(path)
		if err == nil {
			pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				t.Fatalf("invalid child pid in %s: %q", path, data)
			}
			return pid
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for child pid: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func childFile(spool string, parent int) string {
	return filepath.Join(spool, strconv.Itoa(parent)+".child")
}

func inbox(spool string, pid int) string {
	return filepath.Join(spool, strconv.Itoa(pid)+".in")
}

func marker(spool string, pid int) string {
	return filepath.Join(spool, strconv.Itoa(pid)+".pid")
}

func receiver(mode string) int {
	spool := os.Getenv(SpoolEnv)
	pid := os.Getpid()

	sigs := make(chan os.Signal, 1)
	if mode == ReceiverStubborn {
		signal.Ignore(os.Interrupt)
	} else {
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	}

	if mode == ReceiverSilent {
		<-sigs
		return 0
	}

	if mode == ReceiverForks || mode == ReceiverForksStubborn {
		self, _ := os.Executable()
		child := exec.Command(self, roleSleeper)
		if mode == ReceiverForksStubborn {
			child.Args = append(child.Args, ReceiverStubborn)
		}
		if err := child.Start(); err != nil {
			fmt.Fprintln(os.Stderr, "starting child:", err)
			return 1
		}
	}

	if err := os.WriteFile(marker(spool, pid), nil, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "writing marker:", err)
		return 1
	}
	defer os.Remove(marker(spool, pid))
	defer os.Remove(inbox(spool, pid))

	if mode == ReceiverNoDigits {
		fmt.Println("server ready")
	} else {
		fmt.Printf("Server PID: %d\n", pid)
	}
	fmt.Fprintln(os.Stderr, "listening")

	var offset int64
	var partial string
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		select {
		case <-sigs:
			return 0
		case <-tick.C:
		}
		chunk, n := readFrom(inbox(spool, pid), offset)
		offset += n
		partial += chunk
		for {
			line, rest, ok := strings.Cut(partial, "\n")
			if !ok {
				break
			}
			partial = rest
			if mode == ReceiverColored {
				fmt.Printf("\x1b[32m%s\x1b[0m\n", line)
			} else {
				fmt.Println(line)
			}
		}
	}
}

func readFrom(path string, offset int64) (string, int64) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", 0
	}
	data, err := io.ReadAll(bufio.NewReader(f))
	if err != nil && !errors.Is(err, io.EOF) {
		return "", 0
	}
	return string(data), int64(len(data))
}

func sender(mode, target, message string) int {
	spool := os.Getenv(SpoolEnv)
	pid, err := strconv.Atoi(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid pid %q\n", target)
		return 1
	}

	if mode == SenderHang {
		time.Sleep(30 * time.Second)
		return 0
	}

	if _, err := os.Stat(marker(spool, pid)); err != nil {
		fmt.Fprintf(os.Stderr, "no receiver with pid %d\n", pid)
		return 1
	}

	f, err := os.OpenFile(inbox(spool, pid), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintln(os.Stderr, "opening inbox:", err)
		return 1
	}
	_, err = f.WriteString(message + "\n")
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "writing inbox:", err)
		return 1
	}

	switch mode {
	case SenderQuiet:
	case SenderChatty:
		fmt.Printf("sent %d bytes\n", len(message))
	default:
		fmt.Printf("[ACK] %d bytes delivered\n", len(message))
	}
	return 0
}
