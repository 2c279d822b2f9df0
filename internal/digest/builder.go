package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ibeckermayer/tootrank/internal/recommend"
)

// Builder renders recommendation digests
type Builder struct {
	maxPosts int
	template *template.Template
}

// New creates a new digest builder
func New(maxPosts int) (*Builder, error) {
	tmpl, err := template.New("digest").Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &Builder{
		maxPosts: maxPosts,
		template: tmpl,
	}, nil
}

// Digest represents a rendered digest
type Digest struct {
	Title     string
	HTMLBody  string
	PlainBody string
	PostIDs   []string
	CreatedAt time.Time
}

// DigestData is the template data structure
type DigestData struct {
	Title    string
	Date     string
	Posts    []PostData
	Included int
}

// PostData represents a post in the digest template
type PostData struct {
	AuthorHandle string
	AuthorName   string
	Content      string
	Tags         []string
	Likes        int
	Reposts      int
	Replies      int
	URL          string
	Score        float64
}

// Build renders ranked posts in the order given, capped at maxPosts.
func (b *Builder) Build(ranked []recommend.Ranked, now time.Time) (*Digest, error) {
	if len(ranked) == 0 {
		return nil, fmt.Errorf("no posts to include in digest")
	}
	if b.maxPosts > 0 && len(ranked) > b.maxPosts {
		ranked = ranked[:b.maxPosts]
	}

	data := DigestData{
		Title:    "Recommended for you",
		Date:     now.Format("Monday, January 2"),
		Posts:    make([]PostData, len(ranked)),
		Included: len(ranked),
	}

	postIDs := make([]string, len(ranked))
	for i, r := range ranked {
		p := r.Post
		name := p.Account.DisplayName
		if name == "" {
			name = p.Account.Username
		}
		data.Posts[i] = PostData{
			AuthorHandle: p.Account.Acct,
			AuthorName:   name,
			Content:      truncate(PlainText(p.Content), 500),
			Tags:         p.TagNames(),
			Likes:        p.FavouritesCount,
			Reposts:      p.ReblogsCount,
			Replies:      p.RepliesCount,
			URL:          p.URL,
			Score:        r.Score,
		}
		postIDs[i] = p.ID
	}

	var htmlBuf bytes.Buffer
	if err := b.template.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	return &Digest{
		Title:     fmt.Sprintf("%s, %s", data.Title, now.Format("Jan 2")),
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
		PostIDs:   postIDs,
		CreatedAt: now,
	}, nil
}

// Save writes the HTML digest into dir and returns the file path.
func (d *Digest) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create digest dir: %w", err)
	}
	path := filepath.Join(dir, "digest-"+d.CreatedAt.Format("2006-01-02T15-04-05")+".html")
	if err := os.WriteFile(path, []byte(d.HTMLBody), 0644); err != nil {
		return "", fmt.Errorf("failed to write digest: %w", err)
	}
	return path, nil
}

// LatestDigest returns the path of the newest digest saved in dir.
func LatestDigest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "digest-*.html"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no digest in %s", dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}

func buildPlainText(data DigestData) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s\n%s\n\n", data.Title, data.Date)

	for i, p := range data.Posts {
		fmt.Fprintf(&buf, "%d. @%s (%.2f): %s\n", i+1, p.AuthorHandle, p.Score, p.Content)
		fmt.Fprintf(&buf, "   %s\n\n", p.URL)
	}

	return buf.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #6364ff; margin-bottom: 5px; }
        .date { color: #666; margin-bottom: 20px; }
        .post { border-bottom: 1px solid #eee; padding: 15px 0; }
        .post:last-child { border-bottom: none; }
        .author { font-weight: bold; color: #333; }
        .handle { color: #666; }
        .content { margin: 10px 0; line-height: 1.4; white-space: pre-wrap; }
        .tags { margin: 5px 0; }
        .tag { background: #ecebff; color: #6364ff; padding: 2px 8px; border-radius: 12px; font-size: 12px; margin-right: 5px; }
        .metrics { color: #666; font-size: 13px; }
        .link { color: #6364ff; text-decoration: none; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="date">{{.Date}}</div>

        {{range .Posts}}
        <div class="post">
            <div class="author">{{.AuthorName}} <span class="handle">@{{.AuthorHandle}}</span></div>
            <div class="content">{{.Content}}</div>
            <div class="tags">
                {{range .Tags}}<span class="tag">#{{.}}</span>{{end}}
            </div>
            <div class="metrics">{{.Likes}} likes · {{.Reposts}} boosts · {{.Replies}} replies · score {{printf "%.2f" .Score}}</div>
            <a href="{{.URL}}" class="link">Open post →</a>
        </div>
        {{end}}

        <div class="footer">
            Included {{.Included}} posts · Generated by tootrank
        </div>
    </div>
</body>
</html>`
