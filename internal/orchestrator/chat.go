package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/joescharf/cqi/internal/decode"
	"github.com/joescharf/cqi/internal/models"
	"github.com/joescharf/cqi/internal/report"
	"github.com/joescharf/cqi/internal/runstate"
	"github.com/joescharf/cqi/internal/schema"
	"github.com/joescharf/cqi/internal/store"
)

const chatSystem = `You are a helpful assistant specialized in understanding and answering questions about codebases. You analyze code files and give comprehensive answers to user questions.

When a user asks a question:
1. Understand what the user wants to know. Simple remarks such as greetings or thanks, and questions unrelated to the codebase, need no file analysis.
2. Decide whether you need to look at the codebase and, if so, pick the files most likely to hold the answer.
3. Use AnalyzeFile, AnalyzeFilesBatch or QueryFile to examine those files.
4. Answer the question directly, citing specific details from the code you examined.

Set analysis_complete to true only when your answer is final. Set it to false and list files_to_analyze when you still need to investigate.`

// FallbackAnswer is returned when a chat run ends without an answer.
func FallbackAnswer(analyzed int) string {
	return fmt.Sprintf("I analyzed %d files but could not produce a complete answer. Please try rephrasing your question.", analyzed)
}

type chatMode struct {
	req       Request
	state     *runstate.State
	sessionID string
	history   []*models.Message

	answer   string
	complete bool
	hints    []string
}

type historyEntry struct {
	Role    models.MessageRole `json:"role"`
	Content string             `json:"content"`
}

// newChatMode resolves the session before the loop starts: a new session is
// created on the first turn, otherwise recent history is loaded. Continuing a
// session the store does not know is an error; other store errors degrade to
// a run without history.
func (o *Orchestrator) newChatMode(ctx context.Context, req Request, state *runstate.State, logger *slog.Logger) (*chatMode, error) {
	m := &chatMode{req: req, state: state, sessionID: req.SessionID}
	conv := o.cfg.Conversations
	if conv == nil {
		return m, nil
	}
	if m.sessionID == "" {
		id, err := conv.CreateSession(ctx, req.Owner)
		if err != nil {
			logger.Warn("could not create chat session", "error", err)
			return m, nil
		}
		m.sessionID = id
		return m, nil
	}
	if _, err := conv.GetSession(ctx, m.sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSession, m.sessionID)
		}
		logger.Warn("could not look up chat session", "session_id", m.sessionID, "error", err)
		return m, nil
	}
	msgs, err := conv.RecentMessages(ctx, m.sessionID, o.cfg.HistoryMessages)
	if err != nil {
		logger.Warn("could not load chat history", "session_id", m.sessionID, "error", err)
		return m, nil
	}
	m.history = msgs
	return m, nil
}

func (m *chatMode) system(hasIndex bool) string {
	if hasIndex {
		return chatSystem + "\n\nQueryCodebase searches the indexed codebase and is the fastest way to find where something lives."
	}
	return chatSystem
}

func (m *chatMode) shape() schema.ResponseShape { return schema.ChatShape() }

func (m *chatMode) initialPrompt(hasIndex bool) string {
	var sb strings.Builder
	sb.WriteString("A user has asked the following question about this codebase:\n\n")
	fmt.Fprintf(&sb, "QUESTION: %q\n\n", m.req.Question)
	sb.WriteString(repositoryOverview(m.req.Tree, m.req.RepoInfo))
	sb.WriteString("\nAVAILABLE FILES:\n")
	sb.WriteString(formatFiles(firstFiles(m.req.Tree.Files, initialFileLimit)))
	if n := len(m.req.Tree.Files); n > initialFileLimit {
		fmt.Fprintf(&sb, "\n... and %d more files", n-initialFileLimit)
	}

	if prior := m.req.PriorAnalysis; prior != nil {
		sb.WriteString("\n\n")
		sb.WriteString(priorAnalysisSummary(prior))
	}

	sb.WriteString("\n\nTo answer effectively, analyze the most relevant files IF needed: files mentioned in the question or related to its topic, entry points, configuration, documentation, and tests that show expected behavior.\n\n")
	sb.WriteString(toolGuide(hasIndex))
	sb.WriteString("\nReturn the structured response with answer, files_to_analyze and analysis_complete when ready.")

	if len(m.history) > 0 {
		entries := make([]historyEntry, 0, len(m.history))
		for _, msg := range m.history {
			entries = append(entries, historyEntry{Role: msg.Role, Content: msg.Content})
		}
		if data, err := json.MarshalIndent(entries, "", "  "); err == nil {
			sb.WriteString("\n\nThis is the message history:\n")
			sb.Write(data)
		}
	}
	return sb.String()
}

func (m *chatMode) iterationPrompt(hasIndex bool) string {
	analyzed := m.state.Analyzed()
	remaining := remainingFiles(m.req.Tree, m.state.Claimed)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Keep investigating to answer the user's question: %q\n\n", m.req.Question)
	fmt.Fprintf(&sb, "You have already analyzed %d files.\n\n", len(analyzed))
	sb.WriteString("REMAINING FILES TO CONSIDER:\n")
	sb.WriteString(formatFiles(firstFiles(remaining, remainingFileLimit)))
	sb.WriteString("\n\nANALYZED FILES:\n")
	sb.WriteString(analyzedList(analyzed))
	if len(m.hints) > 0 {
		fmt.Fprintf(&sb, "\n\nYou asked to look at: %s", strings.Join(m.hints, ", "))
	}
	sb.WriteString("\n\nExamine any additional files that may hold relevant information. When you can answer comprehensively, return your answer with analysis_complete set to true.\n\n")
	sb.WriteString(toolGuide(hasIndex))
	return sb.String()
}

func (m *chatMode) final(text string, _ int) bool {
	resp, _ := decode.Decode[schema.ChatResponse](text)
	if answer := strings.TrimSpace(resp.Answer); answer != "" {
		m.answer = answer
	}
	m.hints = resp.FilesToAnalyze
	m.complete = resp.AnalysisComplete
	return resp.AnalysisComplete
}

// outcome builds the chat result and persists the exchange on success.
func (m *chatMode) outcome(ctx context.Context, final State, conv ConversationStore, logger *slog.Logger) *models.ChatOutcome {
	out := &models.ChatOutcome{
		Answer:    m.answer,
		Complete:  final == StateTerminatedSuccess && m.answer != "",
		FileHints: m.hints,
		SessionID: m.sessionID,
	}
	if out.Answer == "" {
		out.Answer = FallbackAnswer(m.state.AnalyzedCount())
		return out
	}
	if !out.Complete || conv == nil || m.sessionID == "" {
		return out
	}
	if err := conv.AppendMessage(ctx, m.sessionID, models.RoleHuman, m.req.Question); err != nil {
		logger.Warn("could not save question", "session_id", m.sessionID, "error", err)
		return out
	}
	if err := conv.AppendMessage(ctx, m.sessionID, models.RoleAI, m.answer); err != nil {
		logger.Warn("could not save answer", "session_id", m.sessionID, "error", err)
	}
	return out
}

func priorAnalysisSummary(prior *models.AnalysisOutcome) string {
	s := report.Summarize(prior.Issues, 0)

	var sb strings.Builder
	sb.WriteString("EXISTING CODEBASE ANALYSIS:\n")
	sb.WriteString("A previous analysis of this codebase found:\n\n")
	fmt.Fprintf(&sb, "Quality Score: %.1f\n", s.QualityScore)
	fmt.Fprintf(&sb, "Total Issues Found: %d\n", s.TotalIssues)
	fmt.Fprintf(&sb, "Files Affected: %d\n", s.FilesAffected)

	if len(s.ByCategory) > 0 {
		sb.WriteString("\nIssue Categories:")
		cats := make([]models.IssueCategory, 0, len(s.ByCategory))
		for c := range s.ByCategory {
			cats = append(cats, c)
		}
		sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
		for _, c := range cats {
			fmt.Fprintf(&sb, "\n- %s: %d issues", c, s.ByCategory[c])
		}
	}

	top := report.Prioritize(prior.Issues)
	if len(top) > 5 {
		top = top[:5]
	}
	if len(top) > 0 {
		sb.WriteString("\n\nTop Issues from Previous Analysis:")
		for i, is := range top {
			fmt.Fprintf(&sb, "\n%d. [%s] %s in %s", i+1, is.Severity, is.Title, is.FilePath)
			if d := is.Description; d != "" {
				if len(d) > 100 {
					d = d[:100] + "..."
				}
				fmt.Fprintf(&sb, "\n   %s", d)
			}
		}
	}
	sb.WriteString("\n\nThis existing analysis can provide context for answering the question.")
	return sb.String()
}
