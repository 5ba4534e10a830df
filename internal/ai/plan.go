package ai

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/zpdzap/codelive/internal/srcbook"
	"github.com/zpdzap/codelive/internal/workspace"
)

var ErrBadPlan = errors.New("model returned an invalid plan")

type xmlPlan struct {
	XMLName     xml.Name    `xml:"plan"`
	Description string      `xml:"planDescription"`
	Actions     []xmlAction `xml:"action"`
}

type xmlAction struct {
	Type        string   `xml:"type,attr"`
	Description string   `xml:"description"`
	File        *xmlFile `xml:"file"`
	CommandType string   `xml:"commandType"`
	Packages    []string `xml:"package"`
}

type xmlFile struct {
	Filename string `xml:"filename,attr"`
	Content  string `xml:",chardata"`
}

// ParsePlan extracts the <plan> document from a model reply. Text around
// the document is ignored.
func ParsePlan(reply string) (workspace.Plan, error) {
	start := strings.Index(reply, "<plan")
	end := strings.LastIndex(reply, "</plan>")
	if start < 0 || end < start {
		return workspace.Plan{}, fmt.Errorf("%w: no <plan> element", ErrBadPlan)
	}

	var doc xmlPlan
	if err := xml.Unmarshal([]byte(reply[start:end+len("</plan>")]), &doc); err != nil {
		return workspace.Plan{}, fmt.Errorf("%w: %v", ErrBadPlan, err)
	}

	plan := workspace.Plan{Description: strings.TrimSpace(doc.Description)}
	for i, a := range doc.Actions {
		desc := strings.TrimSpace(a.Description)
		switch a.Type {
		case workspace.ActionFile:
			if a.File == nil || strings.TrimSpace(a.File.Filename) == "" {
				return workspace.Plan{}, fmt.Errorf("%w: action %d has no file", ErrBadPlan, i)
			}
			plan.Actions = append(plan.Actions, workspace.Action{
				Type:        workspace.ActionFile,
				Description: desc,
				Path:        strings.TrimSpace(a.File.Filename),
				Content:     strings.Trim(a.File.Content, "\n") + "\n",
			})
		case workspace.ActionCommand:
			if strings.TrimSpace(a.CommandType) != "npm install" {
				continue
			}
			var pkgs []string
			for _, p := range a.Packages {
				if p = strings.TrimSpace(p); p != "" {
					pkgs = append(pkgs, p)
				}
			}
			if len(pkgs) == 0 {
				continue
			}
			plan.Actions = append(plan.Actions, workspace.Action{
				Type:        workspace.ActionCommand,
				Description: desc,
				Packages:    pkgs,
			})
		default:
			return workspace.Plan{}, fmt.Errorf("%w: action %d has type %q", ErrBadPlan, i, a.Type)
		}
	}
	return plan, nil
}

// GenerateApp asks for a plan that turns the starter template into the app
// the prompt describes.
func (c *Client) GenerateApp(ctx context.Context, files []workspace.File, prompt string) (workspace.Plan, error) {
	return c.plan(ctx, generateAppSystem, files, prompt)
}

// EditApp asks for a plan that applies the prompt to an existing app.
func (c *Client) EditApp(ctx context.Context, files []workspace.File, prompt string) (workspace.Plan, error) {
	return c.plan(ctx, editAppSystem, files, prompt)
}

func (c *Client) plan(ctx context.Context, system string, files []workspace.File, prompt string) (workspace.Plan, error) {
	reply, err := c.Complete(ctx, system, userPrompt(files, prompt))
	if err != nil {
		return workspace.Plan{}, err
	}
	return ParsePlan(reply)
}

// GenerateSrcbook returns .src.md text for a new notebook. The reply is
// decoded once so malformed output is rejected here.
func (c *Client) GenerateSrcbook(ctx context.Context, prompt string) (string, error) {
	reply, err := c.Complete(ctx, srcbookSystem, prompt)
	if err != nil {
		return "", err
	}
	text := stripFence(reply)
	if _, err := srcbook.Decode(text); err != nil {
		return "", fmt.Errorf("generated srcbook: %w", err)
	}
	return text, nil
}

// stripFence removes a single ```markdown wrapper some models add.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return s
	}
	return strings.TrimSpace(s[nl+1 : len(s)-3])
}
