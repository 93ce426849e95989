package commands

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docfs/docfs/cmd/docfsctl/cmdutil"
	"github.com/docfs/docfs/internal/cli/prompt"
	"github.com/docfs/docfs/pkg/client"
	"github.com/docfs/docfs/pkg/wire"
)

var (
	shellNameServer string
	shellUsername   string
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive document shell",
	Long: `Connect to the name server as a document user and work interactively.

The shell registers your username, then accepts the line protocol commands:
CREATE, READ, WRITE, STREAM, VIEW, TRASH, checkpoints, access requests and
so on. Data operations are transparently redirected to the storage server
holding the file.

Examples:
  # Connect to a local name server
  docfsctl shell

  # Connect to a remote name server as alice
  docfsctl shell --nameserver 10.0.0.5:8080 --username alice`,
	RunE: runShell,
}

func init() {
	shellCmd.Flags().StringVar(&shellNameServer, "nameserver", "127.0.0.1:8080", "Name server address (host:port)")
	shellCmd.Flags().StringVarP(&shellUsername, "username", "u", "", "Username (prompted if not provided)")
}

// ANSI escapes for the interactive shell. Empty when color is disabled.
type shellColors struct {
	reset, bold, red, green, yellow, blue, cyan string
}

func newShellColors() shellColors {
	if cmdutil.IsColorDisabled() {
		return shellColors{}
	}
	return shellColors{
		reset:  "\033[0m",
		bold:   "\033[1m",
		red:    "\033[31m",
		green:  "\033[32m",
		yellow: "\033[33m",
		blue:   "\033[34m",
		cyan:   "\033[36m",
	}
}

type shell struct {
	cl  *client.Client
	in  *bufio.Scanner
	col shellColors
}

// errShellExit signals a clean shell exit from the dispatch loop.
var errShellExit = errors.New("shell exit")

func runShell(cmd *cobra.Command, args []string) error {
	username := shellUsername
	if username == "" {
		var err error
		username, err = prompt.InputRequired("Username")
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
	}

	col := newShellColors()
	fmt.Printf("%s[shell]%s Connecting to name server at %s...\n", col.blue, col.reset, shellNameServer)

	cl, err := client.Dial(shellNameServer, username)
	if err != nil {
		var werr wire.Error
		if errors.As(err, &werr) && werr == wire.ErrUsernameInUse {
			return fmt.Errorf("username %q is already in use, try a different one", username)
		}
		return fmt.Errorf("connect to name server: %w", err)
	}
	defer func() { _ = cl.Close() }()

	sh := &shell{
		cl:  cl,
		in:  bufio.NewScanner(os.Stdin),
		col: col,
	}

	fmt.Printf("%s[ok]%s Connected as '%s%s%s'\n", col.green, col.reset, col.cyan, username, col.reset)
	sh.printHelp()
	fmt.Printf("Type '%sexit%s' to quit or '%shelp%s' for the command list.\n\n", col.red, col.reset, col.cyan, col.reset)

	for {
		fmt.Printf("%s%s%s%s > ", col.cyan, col.bold, username, col.reset)
		if !sh.in.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(sh.in.Text())
		if line == "" {
			continue
		}
		if err := sh.dispatch(line); err != nil {
			if errors.Is(err, errShellExit) {
				break
			}
			if errors.Is(err, client.ErrServerShutdown) {
				fmt.Printf("\n%s[notice]%s Name server is shutting down.\n", col.yellow, col.reset)
				break
			}
			return err
		}
	}

	fmt.Printf("\n%s[shell]%s Disconnected from name server. Goodbye!\n", col.blue, col.reset)
	return nil
}

func (s *shell) dispatch(line string) error {
	fields := strings.Fields(line)
	verb := fields[0]

	switch verb {
	case "exit", "quit":
		return errShellExit
	case "help":
		s.printHelp()
		return nil
	}

	if client.Redirected(verb) {
		return s.runStorageVerb(verb, fields[1:], line)
	}

	lines, err := s.cl.Do(line)
	if err != nil {
		return err
	}
	s.renderReply(verb, lines)
	return nil
}

// runStorageVerb handles the verbs the name server redirects to a storage
// server instead of answering itself.
func (s *shell) runStorageVerb(verb string, args []string, line string) error {
	var err error
	switch verb {
	case wire.VerbRead:
		if len(args) != 1 {
			s.printError("usage: READ <filename>")
			return nil
		}
		var data []byte
		if data, err = s.cl.Read(args[0]); err == nil {
			s.printBox("FILE: "+args[0], contentLines(data))
		}

	case wire.VerbStream:
		if len(args) != 1 {
			s.printError("usage: STREAM <filename>")
			return nil
		}
		fmt.Printf("\n%s%s--- streaming %s ---%s\n", s.col.yellow, s.col.bold, args[0], s.col.reset)
		err = s.cl.Stream(args[0], os.Stdout)
		fmt.Printf("\n%s%s--- end of stream ---%s\n\n", s.col.yellow, s.col.bold, s.col.reset)

	case wire.VerbWrite:
		if len(args) != 2 {
			s.printError("usage: WRITE <filename> <sentence_number>")
			return nil
		}
		var sentence int
		if sentence, err = strconv.Atoi(args[1]); err != nil {
			s.printError("sentence number must be an integer")
			return nil
		}
		err = s.runWriteSession(args[0], sentence)

	case wire.VerbUndo, wire.VerbCheckpoint, wire.VerbRevert:
		var ack string
		if ack, err = s.cl.Ack(verb, args...); err == nil {
			s.printSuccess(ack)
		}

	case wire.VerbViewCheckpoint:
		if len(args) != 2 {
			s.printError("usage: VIEWCHECKPOINT <filename> <tag>")
			return nil
		}
		var data []byte
		if data, err = s.cl.ViewCheckpoint(args[0], args[1]); err == nil {
			s.printBox(args[0]+"@"+args[1], contentLines(data))
		}

	case wire.VerbListCheckpoints:
		if len(args) != 1 {
			s.printError("usage: LISTCHECKPOINTS <filename>")
			return nil
		}
		var tags []string
		if tags, err = s.cl.ListCheckpoints(args[0]); err == nil {
			if len(tags) == 0 {
				tags = []string{"(no checkpoints)"}
			}
			s.printBox("CHECKPOINTS", tags)
		}

	default:
		// Redirected verbs the shell has no special rendering for.
		var lines []string
		if lines, err = s.cl.Do(line); err == nil {
			s.renderReply(verb, lines)
		}
	}

	var werr wire.Error
	if errors.As(err, &werr) {
		s.printError(string(werr))
		return nil
	}
	return err
}

// runWriteSession drives the interactive edit loop: one "<word_index>
// <content>" update per line until ETIRW commits.
func (s *shell) runWriteSession(file string, sentence int) error {
	session, err := s.cl.Write(file, sentence)
	if err != nil {
		return err
	}

	fmt.Printf("%s[write]%s Sentence %d of %s locked. Enter updates (<word_index> <content>).\n",
		s.col.green, s.col.reset, sentence, file)
	fmt.Printf("%s[write]%s Type 'ETIRW' to finish and save.\n", s.col.green, s.col.reset)

	for {
		fmt.Printf("%sWRITE >%s ", s.col.yellow, s.col.reset)
		if !s.in.Scan() {
			// stdin closed mid-session: drop the edits and the lock
			return session.Abort()
		}
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}
		if line == wire.EditCommit {
			break
		}
		if err := session.EditLine(line); err != nil {
			_ = session.Abort()
			return err
		}
	}

	lines, err := session.Commit()
	for _, l := range lines {
		switch {
		case l == wire.AckWriteSuccess:
			s.printSuccess("File saved successfully")
		case wire.IsErr(l):
			s.printError(l)
		default:
			fmt.Println(l)
		}
	}
	var werr wire.Error
	if errors.As(err, &werr) {
		// verdict already printed above
		return nil
	}
	return err
}

// renderReply pretty-prints a name server reply according to the verb that
// produced it. Anything unrecognized is printed as-is.
func (s *shell) renderReply(verb string, lines []string) {
	switch verb {
	case wire.VerbView, wire.VerbViewTrash, wire.VerbViewFolder,
		wire.VerbList, wire.VerbListReq, wire.VerbInfo, wire.VerbMan:
		title := strings.ToUpper(verb)
		s.printBox(title, lines)
		return
	}

	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "ACK_"):
			s.printSuccess(l)
		case wire.IsErr(l):
			s.printError(l)
		default:
			fmt.Println(l)
		}
	}
}

func (s *shell) printSuccess(msg string) {
	fmt.Printf("%s[ok]%s %s\n", s.col.green, s.col.reset, msg)
}

func (s *shell) printError(msg string) {
	fmt.Printf("%s[error]%s %s\n", s.col.red, s.col.reset, msg)
}

// printBox draws a titled box around the lines, wrapping long ones.
func (s *shell) printBox(title string, lines []string) {
	const width = 72

	fmt.Printf("\n%s%s┌%s┐%s\n", s.col.cyan, s.col.bold, strings.Repeat("─", width), s.col.reset)
	pad := (width - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	fmt.Printf("%s%s│%s%s%s%s%s│%s\n", s.col.cyan, s.col.bold,
		strings.Repeat(" ", pad), title, strings.Repeat(" ", width-pad-len(title)),
		s.col.cyan, s.col.bold, s.col.reset)
	fmt.Printf("%s%s├%s┤%s\n", s.col.cyan, s.col.bold, strings.Repeat("─", width), s.col.reset)

	printed := 0
	for _, line := range lines {
		for _, chunk := range wrapLine(line, width-2) {
			fmt.Printf("%s%s│%s %-*s %s%s│%s\n", s.col.cyan, s.col.bold, s.col.reset,
				width-2, chunk, s.col.cyan, s.col.bold, s.col.reset)
			printed++
		}
	}
	if printed == 0 {
		fmt.Printf("%s%s│%s %-*s %s%s│%s\n", s.col.cyan, s.col.bold, s.col.reset,
			width-2, "(empty)", s.col.cyan, s.col.bold, s.col.reset)
	}

	fmt.Printf("%s%s└%s┘%s\n\n", s.col.cyan, s.col.bold, strings.Repeat("─", width), s.col.reset)
}

func (s *shell) printHelp() {
	help := [][2]string{
		{"CREATE <filename>", "Create a new file"},
		{"READ <filename>", "Read file contents"},
		{"WRITE <file> <sentence#>", "Edit a sentence (ETIRW to save)"},
		{"STREAM <filename>", "Stream file character by character"},
		{"UNDO <filename>", "Undo the last write"},
		{"CHECKPOINT <file> <tag>", "Save a named checkpoint"},
		{"REVERT <file> <tag>", "Revert to a checkpoint"},
		{"VIEWCHECKPOINT <file> <tag>", "Read a checkpoint"},
		{"LISTCHECKPOINTS <file>", "List a file's checkpoints"},
		{"VIEW [-a|-o|-e]", "List visible files"},
		{"INFO <filename>", "Show file details"},
		{"LIST", "List active users"},
		{"TRASH <filename>", "Move a file to trash"},
		{"RESTORE <filename>", "Restore a file from trash"},
		{"VIEWTRASH", "List your trashed files"},
		{"EMPTYTRASH", "Permanently delete trashed files"},
		{"DELETE <filename>", "Permanently delete a file"},
		{"CREATEFOLDER <name>", "Create a folder"},
		{"MOVE <file> <folder|.>", "Move a file (. = root)"},
		{"VIEWFOLDER <name>", "List folder contents"},
		{"ADDACCESS -R|-W <file> <user>", "Grant access"},
		{"REMACCESS <file> <user>", "Revoke access"},
		{"REQACCESS -R|-W <file>", "Request access to a file"},
		{"LISTREQ", "View access requests"},
		{"APPROVE <id> / DENY <id>", "Resolve a request (owner)"},
		{"EXEC <filename>", "Execute a stored script"},
		{"man <COMMAND>", "Manual for a command"},
		{"help", "Show this help"},
		{"exit", "Disconnect and quit"},
	}

	lines := make([]string, 0, len(help))
	for _, h := range help {
		lines = append(lines, fmt.Sprintf("%-30s %s", h[0], h[1]))
	}
	s.printBox("AVAILABLE COMMANDS", lines)
}

// contentLines splits file content for boxed display.
func contentLines(data []byte) []string {
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return []string{"(empty file)"}
	}
	return strings.Split(text, "\n")
}

// wrapLine splits a line into chunks of at most width characters.
func wrapLine(line string, width int) []string {
	if line == "" {
		return []string{""}
	}
	runes := []rune(line)
	var chunks []string
	for len(runes) > width {
		chunks = append(chunks, string(runes[:width]))
		runes = runes[width:]
	}
	return append(chunks, string(runes))
}
