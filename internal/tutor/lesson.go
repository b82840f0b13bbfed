package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
	"github.com/felipepmaragno/tutor-gateway/internal/metrics"
	"github.com/felipepmaragno/tutor-gateway/internal/telemetry"
)

const (
	LessonMode        = "lesson"
	DefaultDeckName   = "presentation"
	DefaultSlideCount = 6
	MaxSlideCount     = 20
)

var (
	ErrInvalidLesson = errors.New("invalid lesson request")
	ErrMalformedDeck = errors.New("reply is not a slide deck")
)

// DefaultLessonPrompt is used when no "lesson" mode prompt is configured.
// {topic} and {slides} are substituted per request.
const DefaultLessonPrompt = `You are a lesson maker and you have to create a presentation. Generate EXACTLY {slides} slides about "{topic}". Explain each concept in detail, in the most engaging way possible, while keeping it concise. Use this EXACT format with no deviations:

{{Name of the presentation}} - fewer than 3 words, inside double curly brackets.

{Slide 1}
# Introduction to {topic} (rephrased to be engaging)
A catchy sentence about {topic}

{Slide 2}
# Concept Title
- Information about the concept
Image: {IMAGE} + {1-3 word stock image description}

...

{Slide {slides}}
# Conclusion
- Summary of the main points

Rules:
1. Each slide starts with {Slide N} on its own line.
2. Each slide has one title line starting with a single #.
3. Every slide after the first has 4-5 bullet points starting with "-".
4. Every slide after the first ends with exactly one Image line; descriptions differ.
5. No text outside the slides.`

var (
	deckNameRe    = regexp.MustCompile(`\{\{([^}]+)\}\}`)
	slideMarkerRe = regexp.MustCompile(`\{Slide \d+\}`)
	slideImageRe  = regexp.MustCompile(`Image: \{IMAGE\} \+ \{([^}]+)\}`)
)

// Deck is a slide presentation parsed from a lesson reply.
type Deck struct {
	Name   string  `json:"name"`
	Slides []Slide `json:"slides"`
}

type Slide struct {
	Title string `json:"title"`
	// Lead is the first line that is neither title nor bullet; the opening
	// slide carries its hook sentence here.
	Lead    string   `json:"lead,omitempty"`
	Bullets []string `json:"bullets,omitempty"`
	// Image is a short stock image description.
	Image string `json:"image,omitempty"`
}

// ParseDeck reads the {{name}} / {Slide N} format. The name is looked for in
// the first five lines only. A reply without slide markers is an error.
func ParseDeck(text string) (Deck, error) {
	deck := Deck{Name: DefaultDeckName}

	lines := strings.SplitN(text, "\n", 6)
	for _, line := range lines[:min(5, len(lines))] {
		if m := deckNameRe.FindStringSubmatch(line); m != nil {
			if name := strings.TrimSpace(m[1]); name != "" {
				deck.Name = name
			}
			break
		}
	}

	marks := slideMarkerRe.FindAllStringIndex(text, -1)
	if len(marks) == 0 {
		return Deck{}, ErrMalformedDeck
	}
	for i, mark := range marks {
		end := len(text)
		if i+1 < len(marks) {
			end = marks[i+1][0]
		}
		deck.Slides = append(deck.Slides, parseSlide(text[mark[1]:end]))
	}
	return deck, nil
}

func parseSlide(body string) Slide {
	var s Slide
	if m := slideImageRe.FindStringSubmatch(body); m != nil {
		s.Image = strings.TrimSpace(m[1])
	}
	body = slideImageRe.ReplaceAllString(body, "")

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "#"):
			if s.Title == "" {
				s.Title = strings.TrimSpace(strings.TrimLeft(line, "#"))
			}
		case strings.HasPrefix(line, "-"):
			if bullet := strings.TrimSpace(strings.TrimPrefix(line, "-")); bullet != "" {
				s.Bullets = append(s.Bullets, bullet)
			}
		case s.Lead == "":
			s.Lead = line
		}
	}
	return s
}

type LessonParams struct {
	Topic  string
	Slides int
	Tier   domain.Tier
}

// Lesson generates a slide deck about a topic in one resilient call. It goes
// through the roster's circuit breaker like any turn but keeps no session.
func (svc *Service) Lesson(ctx context.Context, p LessonParams) (Deck, Reply, error) {
	topic := strings.TrimSpace(p.Topic)
	if topic == "" {
		return Deck{}, Reply{}, fmt.Errorf("%w: topic is empty", ErrInvalidLesson)
	}
	slides := p.Slides
	if slides == 0 {
		slides = DefaultSlideCount
	}
	if slides < 1 || slides > MaxSlideCount {
		return Deck{}, Reply{}, fmt.Errorf("%w: slide count must be between 1 and %d, got %d", ErrInvalidLesson, MaxSlideCount, p.Slides)
	}
	tier := p.Tier
	if tier == "" {
		tier = domain.TierFree
	}

	roster, err := svc.router.Select(tier, false)
	if err != nil {
		return Deck{}, Reply{}, fmt.Errorf("select roster: %w", err)
	}

	id := "lesson-" + uuid.NewString()
	ctx, span := telemetry.StartSpan(ctx, "tutor.Lesson")
	defer span.End()
	telemetry.AddTurnAttributes(span, id, string(tier), roster.Name())

	if err := svc.allow(ctx, roster.Name()); err != nil {
		return Deck{}, Reply{}, err
	}

	system := svc.lessonPrompt(topic, slides)
	messages := []domain.Message{domain.NewSystemMessage(system), domain.NewUserMessage(topic)}

	completion, err := svc.complete(ctx, id, roster, messages)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		slog.Warn("lesson failed", "lesson_id", id, "roster", roster.Name(), "error", err)
		return Deck{}, Reply{}, fmt.Errorf("generate lesson: %w", err)
	}

	reply := Reply{
		Text:     completion.Text,
		Model:    completion.Model,
		Attempts: completion.Attempts,
		Rounds:   completion.Rounds,
		Latency:  completion.Latency,
	}

	in := EstimateTokens(system) + EstimateTokens(topic)
	out := EstimateTokens(completion.Text)
	spent := svc.pricing.Calculate(completion.Model, in, out)
	metrics.RecordTokens(string(tier), in, out)
	metrics.RecordCost(string(tier), spent)
	telemetry.AddCompletionAttributes(span, completion.Model, completion.KeyIndex, completion.Attempts)
	telemetry.AddUsageAttributes(span, in, out, spent)

	deck, err := ParseDeck(completion.Text)
	if err != nil {
		slog.Warn("lesson reply did not parse", "lesson_id", id, "model", completion.Model)
		return Deck{}, reply, fmt.Errorf("generate lesson: %w", err)
	}
	if len(deck.Slides) != slides {
		slog.Info("lesson slide count differs from request", "lesson_id", id, "requested", slides, "got", len(deck.Slides))
	}
	return deck, reply, nil
}

func (svc *Service) lessonPrompt(topic string, slides int) string {
	tmpl := svc.cfg.ModePrompts[LessonMode]
	if tmpl == "" {
		tmpl = DefaultLessonPrompt
	}
	return strings.NewReplacer("{topic}", topic, "{slides}", strconv.Itoa(slides)).Replace(tmpl)
}
