package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"quantumchat/chat"
)

const helpText = `commands:
  /new               start a new chat
  /list              list chats
  /select <n|id>     switch to a chat
  /rename <title>    rename the active chat
  /archive [n|id]    archive a chat
  /restore <n|id>    restore an archived chat
  /delete [n|id]     delete a chat
  /cancel            stop the reply in progress
  /quit              exit
anything else is sent as a message`

// lockedWriter serializes output from the input loop and the turn
// goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

// session is one terminal chat session.
type session struct {
	registry *chat.Registry
	coord    *chat.Coordinator
	out      *lockedWriter
	turns    sync.WaitGroup

	streamed bool
}

func newSession(p chat.Persister, gen chat.Generator, nav chat.Navigator, w io.Writer) *session {
	s := &session{out: &lockedWriter{w: w}}
	s.registry = chat.NewRegistry(p,
		chat.WithNavigator(nav),
		chat.WithObserver(chat.ObserverFunc(s.render)),
	)
	s.coord = chat.NewCoordinator(s.registry, gen)
	return s
}

// render prints streaming output. It runs under the registry lock.
func (s *session) render(e chat.Event) {
	switch e.Type {
	case chat.EventAssistantStarted:
		s.streamed = false
		s.out.printf("assistant: ")
	case chat.EventChunk:
		s.streamed = true
		s.out.printf("%s", e.Delta)
	case chat.EventCompleted:
		if !s.streamed && e.Message != nil {
			s.out.printf("%s", e.Message.Text)
		}
		s.out.printf("\n")
	case chat.EventCancelled:
		s.out.printf("%s\n", chat.CancelledMarker)
	case chat.EventFailed:
		if e.Message != nil {
			s.out.printf("\n[error] %s\n", e.Message.Text)
		}
	case chat.EventChatCreated:
		if e.Chat != nil {
			s.out.printf("[new chat] %s\n", e.Chat.Title)
		}
	case chat.EventNotice:
		s.out.printf("[!] %s\n", e.Notice)
	}
}

// handle runs one input line. It returns false when the session should end.
func (s *session) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	if !strings.HasPrefix(line, "/") {
		s.send(ctx, line)
		return true
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return false
	case "/help":
		s.out.printf("%s\n", helpText)
	case "/new":
		s.registry.NewChat()
		s.out.printf("started a new chat\n")
	case "/list":
		s.printList()
	case "/cancel":
		if !s.coord.Cancel() {
			s.out.printf("nothing to cancel\n")
		}
	case "/select":
		s.withChat(arg, false, func(id string) error {
			return s.registry.Select(id)
		})
	case "/rename":
		id := s.registry.ActiveID()
		if id == "" {
			s.out.printf("no active chat\n")
			break
		}
		if c, err := s.registry.Rename(ctx, id, arg); err == nil {
			s.out.printf("renamed to %q\n", c.Title)
		}
	case "/archive":
		s.withChat(arg, true, func(id string) error {
			_, err := s.registry.Archive(ctx, id)
			return err
		})
	case "/restore":
		s.withChat(arg, false, func(id string) error {
			_, err := s.registry.Restore(ctx, id)
			return err
		})
	case "/delete":
		s.withChat(arg, true, func(id string) error {
			return s.registry.Delete(ctx, id)
		})
	default:
		s.out.printf("unknown command %s, try /help\n", cmd)
	}
	return true
}

func (s *session) send(ctx context.Context, text string) {
	if s.coord.InFlight() {
		s.out.printf("a reply is still streaming, /cancel it first\n")
		return
	}
	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		if _, err := s.coord.Send(ctx, text); err != nil && errors.Is(err, chat.ErrTurnInFlight) {
			s.out.printf("a reply is still streaming, /cancel it first\n")
		}
	}()
}

// wait blocks until every started turn has settled.
func (s *session) wait() {
	s.turns.Wait()
}

func (s *session) printList() {
	chats := s.registry.List()
	if len(chats) == 0 {
		s.out.printf("no chats yet\n")
		return
	}
	active := s.registry.ActiveID()
	for i, c := range chats {
		mark := " "
		if c.ID == active {
			mark = "*"
		}
		state := ""
		if c.Archived {
			state = " (archived)"
		}
		s.out.printf("%s %2d. %s%s  [%d messages]\n", mark, i+1, c.Title, state, len(c.Messages))
	}
}

// withChat resolves arg to a chat id and runs fn. An empty arg means the
// active chat when allowActive is set.
func (s *session) withChat(arg string, allowActive bool, fn func(id string) error) {
	id, err := s.resolve(arg, allowActive)
	if err != nil {
		s.out.printf("%v\n", err)
		return
	}
	if err := fn(id); errors.Is(err, chat.ErrChatNotFound) {
		s.out.printf("chat not found\n")
	}
}

// resolve accepts a 1-based index from /list, a chat id or an id prefix.
func (s *session) resolve(arg string, allowActive bool) (string, error) {
	if arg == "" {
		if id := s.registry.ActiveID(); allowActive && id != "" {
			return id, nil
		}
		return "", errors.New("which chat? pass a number from /list or an id")
	}

	chats := s.registry.List()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(chats) {
			return "", fmt.Errorf("no chat number %d", n)
		}
		return chats[n-1].ID, nil
	}

	var match string
	for _, c := range chats {
		if c.ID == arg {
			return c.ID, nil
		}
		if strings.HasPrefix(c.ID, arg) {
			if match != "" {
				return "", fmt.Errorf("%q matches more than one chat", arg)
			}
			match = c.ID
		}
	}
	if match == "" {
		return "", errors.New("chat not found")
	}
	return match, nil
}
