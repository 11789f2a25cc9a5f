package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/matheus3301/campus/internal/rpc"
)

// listFlag collects a repeated string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func absAll(files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fail(err)
		}
		out = append(out, abs)
	}
	return out
}

func cmdPosts(x *cli, _ []string) {
	var resp rpc.ListPostsResponse
	x.call("ListPosts", nil, &resp, func() {
		if len(resp.Posts) == 0 {
			fmt.Println("No posts.")
			return
		}
		for _, p := range resp.Posts {
			fmt.Printf("%s %s %-20s %s\n", p.UpdatedAt, p.PostID, p.CreatorName, p.Title)
		}
	})
}

func cmdPost(x *cli, args []string) {
	need(args, 1, "post get|create|edit|delete")
	switch args[0] {
	case "get":
		need(args, 2, "post get <post>")
		var resp rpc.PostResponse
		x.call("GetPost", rpc.PostRequest{PostID: args[1]}, &resp, func() { printPost(resp.Post) })
	case "create":
		fs := flag.NewFlagSet("post create", flag.ExitOnError)
		title := fs.String("title", "", "post title")
		text := fs.String("text", "", "post text")
		var images, docs listFlag
		fs.Var(&images, "image", "hosted image URL (repeatable)")
		fs.Var(&docs, "doc", "hosted document URL (repeatable)")
		_ = fs.Parse(args[1:])
		req := rpc.CreatePostRequest{
			Title:     *title,
			Text:      *text,
			ImageURLs: images,
			DocURLs:   docs,
			Files:     absAll(fs.Args()),
		}
		var resp rpc.CreatePostResponse
		x.call("CreatePost", req, &resp, func() { fmt.Println(resp.PostID) })
	case "edit":
		need(args, 2, "post edit <post> [-title T -text X] [file...]")
		fs := flag.NewFlagSet("post edit", flag.ExitOnError)
		title := fs.String("title", "", "new title")
		text := fs.String("text", "", "new text")
		_ = fs.Parse(args[2:])
		req := rpc.UpdatePostRequest{PostID: args[1], Files: absAll(fs.Args())}
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "title":
				req.Title = title
			case "text":
				req.Text = text
			}
		})
		x.call("UpdatePost", req, nil, done)
	case "delete":
		need(args, 2, "post delete <post>")
		x.call("DeletePost", rpc.PostRequest{PostID: args[1]}, nil, done)
	default:
		fmt.Fprintf(os.Stderr, "unknown post subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func printPost(p rpc.PostView) {
	fmt.Printf("%s\n", p.Title)
	fmt.Printf("by %s, updated %s\n", p.CreatorName, p.UpdatedAt)
	if p.Text != "" {
		fmt.Printf("\n%s\n", p.Text)
	}
	for _, u := range p.ImageURLs {
		fmt.Printf("[image] %s\n", u)
	}
	for _, u := range p.DocURLs {
		fmt.Printf("[document] %s\n", u)
	}
}
