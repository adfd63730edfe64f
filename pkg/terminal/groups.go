package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	runCmds
	stackCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Running the program", runCmds},
	{"Viewing the call stack and selecting frames", stackCmds},
	{"Other commands", otherCmds},
}
