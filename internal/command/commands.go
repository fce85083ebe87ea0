// Package command provides the parser, registry, and reply texts of the
// slash-command protocol spoken over a relay connection.
package command

import "fmt"

// Prefix marks a line as a command rather than chat text.
const Prefix = "/"

// Handler identifiers mapping commands to session handler actions.
const (
	HandlerJoin   = "join"
	HandlerCreate = "create"
	HandlerName   = "name"
	HandlerReady  = "ready"
)

// Replies sent by the server in response to commands.
const (
	ReplyJoined          = "Joined"
	ReplyNoSuchRoom      = "No such room"
	ReplyRoomRequired    = "!!! room name is required"
	ReplyNameRequired    = "!!! name is required"
	ReplyNoCodeAvailable = "!!! no room code available"
	redirectPrefix       = "/redirect"
)

// UnknownCommand returns the reply for an unrecognised command line.
func UnknownCommand(raw string) string {
	return fmt.Sprintf("!!! unknown command: %q", raw)
}

// Redirect returns the instruction sending a client to the room with code.
func Redirect(code string) string {
	return redirectPrefix + code
}

// Command defines a client-invocable command.
type Command struct {
	// Name is the command token without the prefix.
	Name string
	// Help is the short help text.
	Help string
	// Handler maps to the session handler action.
	Handler string
	// ArgRequired rejects the command when no argument is given.
	ArgRequired bool
	// MissingArg is the reply sent when a required argument is absent.
	MissingArg string
}

// BuiltinCommands returns the commands of the relay protocol.
func BuiltinCommands() []Command {
	return []Command{
		{Name: "join", Help: "Join an existing room by code", Handler: HandlerJoin, ArgRequired: true, MissingArg: ReplyRoomRequired},
		{Name: "create", Help: "Create a new room and move into it", Handler: HandlerCreate},
		{Name: "name", Help: "Set your display name", Handler: HandlerName, ArgRequired: true, MissingArg: ReplyNameRequired},
		{Name: "ready", Help: "Mark yourself ready to start", Handler: HandlerReady},
	}
}
