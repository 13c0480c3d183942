package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/MegaGrindStone/chatbot-ui/internal/models"
	"github.com/MegaGrindStone/chatbot-ui/internal/session"
)

type chatSession interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) func()

	SubmitText(ctx context.Context, text string) error
	SelectThread(ctx context.Context, chatID string) error
	CreateThread(ctx context.Context) (models.ChatThread, error)
}

// repl reads commands and questions line by line and streams answers to out as they grow.
type repl struct {
	sess   chatSession
	out    io.Writer
	errOut io.Writer

	unsubscribe func()

	mu       sync.Mutex
	streamID string
	printed  string
}

func newREPL(sess chatSession, out, errOut io.Writer) *repl {
	r := &repl{
		sess:   sess,
		out:    out,
		errOut: errOut,
	}
	r.unsubscribe = sess.Subscribe(r.stream)
	return r
}

func (r *repl) close() {
	r.unsubscribe()
}

// run processes lines from in until it is exhausted, a quit command arrives or ctx is done.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	snap := r.sess.Snapshot()
	if snap.ChatID != "" {
		r.printf("Active chat: %s\n", snap.ChatID)
		r.printHistory(snap)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := r.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/new":
		chat, err := r.sess.CreateThread(ctx)
		if err != nil {
			r.errorf(err)
			return false
		}
		r.printf("Active chat: %s\n", chat.ChatID)
	case "/chats":
		r.printChats(r.sess.Snapshot())
	case "/select":
		chatID, err := r.resolveChat(arg)
		if err != nil {
			r.errorf(err)
			return false
		}
		if err := r.sess.SelectThread(ctx, chatID); err != nil {
			r.errorf(err)
			return false
		}
		r.printf("Active chat: %s\n", chatID)
		r.printHistory(r.sess.Snapshot())
	default:
		if err := r.sess.SubmitText(ctx, line); err != nil {
			r.errorf(err)
		}
	}
	return false
}

// resolveChat accepts either a position in the thread list or a thread identifier.
func (r *repl) resolveChat(arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("usage: /select <n|id>")
	}
	chats := r.sess.Snapshot().Chats
	if n, err := strconv.Atoi(arg); err == nil && n >= 0 && n < len(chats) {
		return chats[n].ChatID, nil
	}
	return arg, nil
}

// stream prints the growth of the in-flight answer. It runs on the session's notification path.
func (r *repl) stream(snap session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.InFlightID != "" && snap.InFlightID != r.streamID {
		r.streamID = snap.InFlightID
		r.printed = ""
	}
	if r.streamID == "" {
		return
	}

	var msg *models.Message
	for i := range snap.Messages {
		if snap.Messages[i].ID == r.streamID {
			msg = &snap.Messages[i]
			break
		}
	}
	if msg == nil {
		// The thread was switched away from under the answer.
		r.streamID, r.printed = "", ""
		return
	}

	if msg.Text != models.PendingMarker {
		switch {
		case strings.HasPrefix(msg.Text, r.printed):
			fmt.Fprint(r.out, msg.Text[len(r.printed):])
		default:
			fmt.Fprint(r.out, "\n"+msg.Text)
		}
		r.printed = msg.Text
	}

	if snap.InFlightID == "" {
		fmt.Fprintln(r.out)
		r.streamID, r.printed = "", ""
	}
}

func (r *repl) printChats(snap session.Snapshot) {
	if len(snap.Chats) == 0 {
		r.printf("No chats available\n")
		return
	}
	for i, ch := range snap.Chats {
		marker := " "
		if ch.ChatID == snap.ChatID {
			marker = "*"
		}
		r.printf("%s %d Chat%d %s\n", marker, i, i, ch.ChatID)
	}
}

func (r *repl) printHistory(snap session.Snapshot) {
	for _, msg := range snap.Messages {
		if msg.ID == snap.InFlightID {
			continue
		}
		r.printf("%s: %s\n", msg.Sender, msg.Text)
	}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) errorf(err error) {
	fmt.Fprintf(r.errOut, "error: %v\n", err)
}
