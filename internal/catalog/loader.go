package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// seedSchema validates seed documents before anything touches the store.
// YAML is decoded to plain maps first so the schema sees JSON-shaped data.
const seedSchema = `{
  "type": "object",
  "required": ["courses"],
  "properties": {
    "courses": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "title"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "lessons": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["title", "content_type"],
              "properties": {
                "title": {"type": "string", "minLength": 1},
                "content_type": {"enum": ["video", "text", "mixed"]},
                "duration_minutes": {"type": "integer", "minimum": 0},
                "text_content": {"type": "string"}
              }
            }
          },
          "quiz": {
            "type": "object",
            "required": ["title", "time_limit_minutes", "passing_score"],
            "properties": {
              "title": {"type": "string", "minLength": 1},
              "time_limit_minutes": {"type": "integer", "minimum": 1},
              "passing_score": {"type": "integer", "minimum": 0, "maximum": 100},
              "active": {"type": "boolean"},
              "questions": {
                "type": "array",
                "items": {
                  "type": "object",
                  "required": ["type", "prompt", "options", "correct", "points"],
                  "properties": {
                    "type": {"enum": ["single", "multiple"]},
                    "prompt": {"type": "string", "minLength": 1},
                    "options": {"type": "array", "items": {"type": "string"}, "minItems": 2},
                    "correct": {"type": "array", "items": {"type": "integer", "minimum": 0}, "minItems": 1},
                    "points": {"type": "integer", "minimum": 1}
                  }
                }
              }
            }
          }
        }
      }
    },
    "prerequisites": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["course", "requires"],
        "properties": {
          "course": {"type": "string", "minLength": 1},
          "requires": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

// Seed is a catalog seed document.
type Seed struct {
	Courses []SeedCourse `yaml:"courses"`
	Prereqs []SeedPrereq `yaml:"prerequisites"`
}

// SeedCourse describes one course with its lessons and optional quiz.
type SeedCourse struct {
	ID          string       `yaml:"id"`
	Title       string       `yaml:"title"`
	Description string       `yaml:"description"`
	Lessons     []SeedLesson `yaml:"lessons"`
	Quiz        *SeedQuiz    `yaml:"quiz"`
}

// SeedLesson describes one lesson within a seed course.
type SeedLesson struct {
	Title           string `yaml:"title"`
	ContentType     string `yaml:"content_type"`
	DurationMinutes int    `yaml:"duration_minutes"`
	TextContent     string `yaml:"text_content"`
}

// SeedQuiz describes a course quiz with its questions.
type SeedQuiz struct {
	Title            string         `yaml:"title"`
	TimeLimitMinutes int            `yaml:"time_limit_minutes"`
	PassingScore     int            `yaml:"passing_score"`
	Active           bool           `yaml:"active"`
	Questions        []SeedQuestion `yaml:"questions"`
}

// SeedQuestion describes one quiz question.
type SeedQuestion struct {
	Type    string   `yaml:"type"`
	Prompt  string   `yaml:"prompt"`
	Options []string `yaml:"options"`
	Correct []int    `yaml:"correct"`
	Points  int      `yaml:"points"`
}

// SeedPrereq is a prerequisite edge declared in a seed document.
type SeedPrereq struct {
	Course   string `yaml:"course"`
	Requires string `yaml:"requires"`
}

// PrerequisiteAdder applies prerequisite edges; the progression graph
// implements it with full cycle checking.
type PrerequisiteAdder interface {
	AddPrerequisite(ctx context.Context, courseID, requiredID string) error
}

// ParseSeed decodes and schema-validates a seed document.
func ParseSeed(data []byte) (*Seed, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse seed YAML: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(seedSchema),
		gojsonschema.NewGoLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("validate seed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid seed document: %s", strings.Join(msgs, "; "))
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return &seed, nil
}

// ImportSeed applies a seed document through the Admin service, then wires
// prerequisite edges. Course IDs from the seed are preserved so edges can
// reference them.
func ImportSeed(ctx context.Context, admin *Admin, graph PrerequisiteAdder, seed *Seed) error {
	for _, sc := range seed.Courses {
		if _, err := admin.CreateCourse(ctx, Course{ID: sc.ID, Title: sc.Title, Description: sc.Description}); err != nil {
			return fmt.Errorf("seed course %s: %w", sc.ID, err)
		}

		for i, sl := range sc.Lessons {
			_, err := admin.CreateLesson(ctx, Lesson{
				CourseID:        sc.ID,
				Title:           sl.Title,
				ContentType:     ContentType(sl.ContentType),
				DurationMinutes: sl.DurationMinutes,
				TextContent:     sl.TextContent,
				Position:        i,
			})
			if err != nil {
				return fmt.Errorf("seed lesson %q in %s: %w", sl.Title, sc.ID, err)
			}
		}

		if sc.Quiz == nil {
			continue
		}
		quizID, err := admin.CreateQuiz(ctx, Quiz{
			CourseID:         sc.ID,
			Title:            sc.Quiz.Title,
			TimeLimitMinutes: sc.Quiz.TimeLimitMinutes,
			PassingScore:     sc.Quiz.PassingScore,
		})
		if err != nil {
			return fmt.Errorf("seed quiz in %s: %w", sc.ID, err)
		}
		for i, sq := range sc.Quiz.Questions {
			_, err := admin.AddQuestion(ctx, Question{
				QuizID:         quizID,
				Type:           QuestionType(sq.Type),
				Prompt:         sq.Prompt,
				Options:        sq.Options,
				CorrectOptions: sq.Correct,
				Points:         sq.Points,
				Position:       i,
			})
			if err != nil {
				return fmt.Errorf("seed question %d in %s: %w", i, sc.ID, err)
			}
		}
		if sc.Quiz.Active {
			if err := admin.ActivateQuiz(ctx, quizID); err != nil {
				return fmt.Errorf("seed quiz activation in %s: %w", sc.ID, err)
			}
		}
	}

	for _, p := range seed.Prereqs {
		if err := graph.AddPrerequisite(ctx, p.Course, p.Requires); err != nil {
			return fmt.Errorf("seed prerequisite %s -> %s: %w", p.Course, p.Requires, err)
		}
	}

	slog.Info("catalog seed imported", "courses", len(seed.Courses), "prerequisites", len(seed.Prereqs))
	return nil
}

// LoadSeedDir parses and imports every .yaml/.yml file under dir.
func LoadSeedDir(ctx context.Context, admin *Admin, graph PrerequisiteAdder, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		seed, err := ParseSeed(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return ImportSeed(ctx, admin, graph, seed)
	})
}
