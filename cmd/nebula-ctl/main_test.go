package main

import (
	"testing"

	"nebula/internal/ipc"
)

func TestRequest(t *testing.T) {
	tests := []struct {
		args    []string
		want    ipc.Request
		wantErr bool
	}{
		{[]string{"listen"}, ipc.Request{Cmd: "listen"}, false},
		{[]string{"add", "buy", "milk", "tomorrow"}, ipc.Request{Cmd: "add", Text: "buy milk tomorrow"}, false},
		{[]string{"say", "hello"}, ipc.Request{Cmd: "say", Text: "hello"}, false},
		{[]string{"complete", "abc"}, ipc.Request{Cmd: "complete", ID: "abc"}, false},
		{[]string{"list"}, ipc.Request{Cmd: "list"}, false},
		{[]string{"list", "milk"}, ipc.Request{Cmd: "list", Text: "milk"}, false},
		{[]string{"add"}, ipc.Request{}, true},
		{[]string{"complete"}, ipc.Request{}, true},
		{[]string{"jump"}, ipc.Request{}, true},
	}
	for _, tt := range tests {
		got, err := request(tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("%v: err = %v", tt.args, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%v: got %+v, want %+v", tt.args, got, tt.want)
		}
	}
}
