package chat

import (
    "sync"
    "testing"

    "github.com/cloudwego/eino/schema"
)

func TestSessionIsolation(t *testing.T) {
    s := NewSessionStore()
    s.Append("a", &schema.Message{Role: schema.User, Content: "hello a"})
    s.Append("b", &schema.Message{Role: schema.User, Content: "hello b"})

    if got := s.History("a"); len(got) != 1 || got[0].Content != "hello a" {
        t.Fatalf("session a history: %+v", got)
    }
    if got := s.History("b"); len(got) != 1 || got[0].Content != "hello b" {
        t.Fatalf("session b history: %+v", got)
    }
}

func TestDeleteSession(t *testing.T) {
    s := NewSessionStore()
    s.Append("a", &schema.Message{Role: schema.User, Content: "x"})
    s.Delete("a")
    if got := s.History("a"); len(got) != 0 {
        t.Fatalf("history survived delete: %+v", got)
    }
}

func TestHistoryReturnsCopy(t *testing.T) {
    s := NewSessionStore()
    s.Append("a", &schema.Message{Role: schema.User, Content: "x"})
    h := s.History("a")
    h[0] = &schema.Message{Role: schema.User, Content: "mutated"}
    if s.History("a")[0].Content != "x" {
        t.Fatal("History must return a copy")
    }
}

func TestConcurrentAppend(t *testing.T) {
    s := NewSessionStore()
    var wg sync.WaitGroup
    for i := 0; i < 50; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            unlock := s.Lock("a")
            defer unlock()
            s.Append("a", &schema.Message{Role: schema.User, Content: "m"})
        }()
    }
    wg.Wait()
    if got := len(s.History("a")); got != 50 {
        t.Fatalf("expect 50 messages, got %d", got)
    }
}
