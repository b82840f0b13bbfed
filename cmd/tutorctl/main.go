// Command tutorctl chats with a running tutor gateway and prepares the
// secrets it needs.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/alecthomas/kong"

	"github.com/felipepmaragno/tutor-gateway/internal/api"
	"github.com/felipepmaragno/tutor-gateway/internal/auth"
	"github.com/felipepmaragno/tutor-gateway/internal/crypto"
	"github.com/felipepmaragno/tutor-gateway/internal/keypool"
)

const version = "0.1.0"

type Globals struct {
	Addr string `help:"Gateway base URL." default:"http://localhost:8080" env:"TUTOR_GATEWAY_ADDR"`
}

type CLI struct {
	Globals

	Chat      ChatCmd          `cmd:"" help:"Start a tutoring session and chat over stdin."`
	Lesson    LessonCmd        `cmd:"" help:"Generate a slide deck outline for a topic."`
	Models    ModelsCmd        `cmd:"" help:"List the configured model rosters."`
	SealKeys  SealKeysCmd      `cmd:"" name:"seal-keys" help:"Encrypt an API key list for OPENROUTER_API_KEYS_ENC."`
	HashToken HashTokenCmd     `cmd:"" name:"hash-token" help:"Print the bcrypt hash of an admin token for ADMIN_TOKEN_HASH."`
	Version   kong.VersionFlag `help:"Print version and exit."`
}

type ChatCmd struct {
	Subject string `help:"Subject of the session." required:""`
	Mode    string `help:"Tutoring mode." default:"explain"`
	Prompt  string `help:"Extra instructions appended to the system prompt."`
	Tier    string `help:"Session tier." enum:"free,pro" default:"free"`
	Open    bool   `help:"Ask for an opening message first."`

	in  io.Reader `kong:"-"`
	out io.Writer `kong:"-"`
}

func (c *ChatCmd) Run(g *Globals) error {
	in, out := c.in, c.out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cl := newClient(g.Addr)
	session, err := cl.createSession(ctx, api.CreateSessionRequest{
		Subject: c.Subject,
		Mode:    c.Mode,
		Prompt:  c.Prompt,
		Tier:    c.Tier,
		Open:    c.Open,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer cl.deleteSession(context.Background(), session.ID)

	fmt.Fprintf(out, "session %s (%s)\n", session.ID, session.Tier)
	if session.Opening != "" {
		fmt.Fprintf(out, "tutor> %s\n", session.Opening)
	}
	if session.OpeningError != "" {
		fmt.Fprintf(out, "! opening failed: %s\n", session.OpeningError)
	}
	fmt.Fprintln(out, `type a message, "/image <path> [text]" to attach an image, "/quit" to leave`)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}

		req, err := turnRequest(line)
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			continue
		}

		resp, err := cl.turn(ctx, session.ID, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "! %v\n", err)
			continue
		}
		fmt.Fprintf(out, "tutor> %s\n", resp.Response)
		fmt.Fprintf(out, "       [%s, %d attempt(s), %dms]\n", resp.Model, resp.Attempts, resp.LatencyMs)
	}
	return scanner.Err()
}

// turnRequest parses one REPL line.
func turnRequest(line string) (api.TurnRequest, error) {
	rest, ok := strings.CutPrefix(line, "/image ")
	if !ok {
		return api.TurnRequest{Message: line}, nil
	}

	path, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
	data, err := os.ReadFile(path)
	if err != nil {
		return api.TurnRequest{}, fmt.Errorf("read image: %w", err)
	}
	return api.TurnRequest{
		Message: strings.TrimSpace(text),
		Image:   base64.StdEncoding.EncodeToString(data),
	}, nil
}

type LessonCmd struct {
	Topic  string `arg:"" help:"Topic of the lesson."`
	Slides int    `help:"Number of slides." default:"6"`
	Tier   string `help:"Tier to generate with." enum:"free,pro" default:"free"`

	out io.Writer `kong:"-"`
}

func (c *LessonCmd) Run(g *Globals) error {
	out := c.out
	if out == nil {
		out = os.Stdout
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	deck, err := newClient(g.Addr).lesson(ctx, api.LessonRequest{Topic: c.Topic, Slides: c.Slides, Tier: c.Tier})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s (%d slides, %s)\n", deck.Name, len(deck.Slides), deck.Model)
	for i, s := range deck.Slides {
		fmt.Fprintf(out, "\n%d. %s\n", i+1, s.Title)
		if s.Lead != "" {
			fmt.Fprintf(out, "   %s\n", s.Lead)
		}
		for _, b := range s.Bullets {
			fmt.Fprintf(out, "   - %s\n", b)
		}
		if s.Image != "" {
			fmt.Fprintf(out, "   [image: %s]\n", s.Image)
		}
	}
	return nil
}

type ModelsCmd struct {
	out io.Writer `kong:"-"`
}

func (c *ModelsCmd) Run(g *Globals) error {
	out := c.out
	if out == nil {
		out = os.Stdout
	}

	rosters, err := newClient(g.Addr).models(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROSTER\tCURSOR\tCURRENT\tMODELS")
	for _, r := range rosters {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\n", r.Name, r.Cursor, r.Current, len(r.Models))
	}
	return w.Flush()
}

type SealKeysCmd struct {
	Passphrase string `help:"Encryption passphrase." env:"ENCRYPTION_KEY" required:""`
	Keys       string `arg:"" help:"Comma-separated API keys."`
}

func (c *SealKeysCmd) Run() error {
	keys := keypool.Parse(c.Keys)
	if len(keys) == 0 {
		return errors.New("no keys given")
	}

	sealer, err := crypto.NewSealer(c.Passphrase)
	if err != nil {
		return err
	}
	sealed, err := sealer.Seal(strings.Join(keys, ","))
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}

type HashTokenCmd struct {
	Token string `arg:"" optional:"" help:"Admin token. A random one is generated when omitted."`
}

func (c *HashTokenCmd) Run() error {
	token := c.Token
	if token == "" {
		generated, err := auth.GenerateToken()
		if err != nil {
			return err
		}
		token = generated
		fmt.Fprintf(os.Stderr, "token: %s\n", token)
	}

	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("tutorctl"),
		kong.Description("Client for the tutor gateway."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
