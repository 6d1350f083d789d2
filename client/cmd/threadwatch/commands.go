package main

import (
	"errors"
	"fmt"
	"strings"
)

type commandName string

const (
	cmdReply     commandName = "reply"
	cmdLike      commandName = "like"
	cmdExpand    commandName = "expand"
	cmdRefresh   commandName = "refresh"
	cmdReconnect commandName = "reconnect"
	cmdQuit      commandName = "quit"
)

const usage = `commands:
  reply <text>              top-level reply
  reply @<replyId> <text>   answer a reply
  like [replyId]            toggle a like, the discussion when no id
  expand <replyId>          expand or collapse a reply
  refresh                   refetch the discussion
  reconnect                 retry realtime after it gave up
  quit`

type command struct {
	name   commandName
	target string
	text   string
}

var errEmpty = errors.New(usage)

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errEmpty
	}
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch commandName(word) {
	case cmdReply:
		var target string
		if strings.HasPrefix(rest, "@") {
			target, rest, _ = strings.Cut(rest[1:], " ")
			rest = strings.TrimSpace(rest)
		}
		if rest == "" {
			return command{}, fmt.Errorf("reply needs text\n%s", usage)
		}
		return command{name: cmdReply, target: target, text: rest}, nil
	case cmdLike:
		return command{name: cmdLike, target: rest}, nil
	case cmdExpand:
		if rest == "" {
			return command{}, fmt.Errorf("expand needs a reply id\n%s", usage)
		}
		return command{name: cmdExpand, target: rest}, nil
	case cmdRefresh, cmdReconnect, cmdQuit:
		return command{name: commandName(word)}, nil
	}
	return command{}, fmt.Errorf("unknown command %q\n%s", word, usage)
}
