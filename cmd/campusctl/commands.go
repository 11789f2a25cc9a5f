package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/matheus3301/campus/internal/chat"
	"github.com/matheus3301/campus/internal/rpc"
)

type cli struct {
	ctx  context.Context
	c    *rpc.Client
	json bool
}

// call runs method and exits on error. With --json the response is
// printed as is and print is skipped.
func (x *cli) call(method string, req, resp any, print func()) {
	if err := x.c.Call(x.ctx, method, req, resp); err != nil {
		fail(err)
	}
	if x.json {
		if resp == nil {
			resp = rpc.Empty{}
		}
		outputJSON(resp)
		return
	}
	if print != nil {
		print()
	}
}

func done() { fmt.Println("OK") }

func warnFailed(failed []string) {
	if len(failed) > 0 {
		fmt.Fprintf(os.Stderr, "warning: not delivered to %s\n", strings.Join(failed, ", "))
	}
}

var commands = map[string]func(*cli, []string){
	"status":      cmdStatus,
	"chats":       cmdChats,
	"messages":    cmdMessages,
	"create":      cmdCreate,
	"join":        cmdJoin,
	"add":         cmdAdd,
	"remove":      cmdRemove,
	"leave":       cmdLeave,
	"admin":       cmdAdmin,
	"rename":      cmdRename,
	"invite":      cmdInvite,
	"block":       cmdBlock,
	"unblock":     cmdUnblock,
	"blocks":      cmdBlocks,
	"send":        cmdSend,
	"send-image":  cmdSendImage,
	"send-doc":    cmdSendDoc,
	"star":        cmdStar,
	"starred":     cmdStarred,
	"delete-me":   cmdDeleteForMe,
	"delete-all":  cmdDeleteForAll,
	"clear":       cmdClear,
	"delete-chat": cmdDeleteChat,
	"hide":        cmdHide,
	"user":        cmdUser,
	"token":       cmdToken,
	"pushes":      cmdPushes,
	"posts":       cmdPosts,
	"post":        cmdPost,
}

func cmdStatus(x *cli, _ []string) {
	var resp rpc.StatusResponse
	x.call("Status", nil, &resp, func() {
		fmt.Printf("Session: %s\n", resp.Session)
		fmt.Printf("User:    %s\n", resp.UserID)
		fmt.Printf("Status:  %s\n", resp.Status)
		if resp.Reason != "" {
			fmt.Printf("Reason:  %s\n", resp.Reason)
		}
		fmt.Printf("Uptime:  %dms\n", resp.UptimeMs)
		fmt.Printf("Backend: %s\n", resp.Backend)
		fmt.Printf("Push:    %s (%d queued)\n", resp.PushGateway, resp.PushQueued)
		fmt.Printf("Watches: %d\n", resp.Watches)
		fmt.Printf("Media:   %v\n", resp.Media)
	})
}

func cmdChats(x *cli, args []string) {
	fs := flag.NewFlagSet("chats", flag.ExitOnError)
	courses := fs.Bool("courses", false, "list course chats only")
	all := fs.Bool("all", false, "list every chat")
	_ = fs.Parse(args)

	req := rpc.ListChatsRequest{Filter: "chats"}
	switch {
	case *all:
		req.Filter = ""
	case *courses:
		req.Filter = "courses"
	}
	var resp rpc.ListChatsResponse
	x.call("ListChats", req, &resp, func() {
		if len(resp.Chats) == 0 {
			fmt.Println("No chats.")
			return
		}
		for _, c := range resp.Chats {
			kind := "1:1"
			switch {
			case c.IsCourseChat:
				kind = "course"
			case c.IsGroupChat:
				kind = "group"
			}
			fmt.Printf("%-36s %-6s %-24s %s\n", c.ChatID, kind, c.Title, c.Preview)
		}
	})
}

func cmdMessages(x *cli, args []string) {
	need(args, 1, "messages <chat>")
	var resp rpc.ListMessagesResponse
	x.call("ListMessages", rpc.ChatRequest{ChatID: args[0]}, &resp, func() {
		for _, m := range resp.Messages {
			body := m.Text
			switch m.Kind {
			case string(chat.KindImage):
				body = "[image] " + m.ImageURL
			case string(chat.KindDocument):
				body = "[document] " + m.Text + " " + m.DocumentURL
			case string(chat.KindInfo):
				body = "* " + m.Text
			}
			fmt.Printf("%s %s %-12s %s\n", m.SentAt, m.ID, m.SentBy, body)
		}
	})
}

func cmdCreate(x *cli, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	group := fs.Bool("group", false, "create a group chat")
	course := fs.Bool("course", false, "mark the group as a course chat")
	name := fs.String("name", "", "group name")
	image := fs.String("image", "", "group image URL")
	_ = fs.Parse(args)
	need(fs.Args(), 1, "create [-group -name N -course] <user>...")

	req := rpc.CreateChatRequest{
		Users:        fs.Args(),
		IsGroupChat:  *group || *course,
		IsCourseChat: *course,
		ChatName:     *name,
		ChatImage:    *image,
	}
	var resp rpc.CreateChatResponse
	x.call("CreateChat", req, &resp, func() {
		fmt.Println(resp.ChatID)
		warnFailed(resp.FailedMembers)
	})
}

func cmdJoin(x *cli, args []string) {
	need(args, 1, "join <code|link>")
	var resp rpc.JoinResponse
	x.call("JoinChat", rpc.InvitationRequest{Code: args[0]}, &resp, func() {
		if resp.AlreadyMember {
			fmt.Printf("Already a member of %s (%s)\n", resp.ChatName, resp.ChatID)
			return
		}
		fmt.Printf("Joined %s (%s)\n", resp.ChatName, resp.ChatID)
	})
}

func cmdAdd(x *cli, args []string) {
	need(args, 2, "add <chat> <user>...")
	var resp rpc.AddUsersResponse
	x.call("AddUsers", rpc.MembersRequest{ChatID: args[0], Users: args[1:]}, &resp, func() {
		if len(resp.Added) == 0 {
			fmt.Println("Everyone is already a member.")
			return
		}
		fmt.Printf("Added %s\n", strings.Join(resp.Added, ", "))
		warnFailed(resp.FailedMembers)
	})
}

func cmdRemove(x *cli, args []string) {
	need(args, 2, "remove <chat> <user>")
	x.call("RemoveUser", rpc.MemberRequest{ChatID: args[0], UserID: args[1]}, nil, done)
}

func cmdLeave(x *cli, args []string) {
	need(args, 1, "leave <chat>")
	x.call("LeaveChat", rpc.ChatRequest{ChatID: args[0]}, nil, done)
}

func cmdAdmin(x *cli, args []string) {
	need(args, 3, "admin add|remove <chat> <user>")
	req := rpc.MemberRequest{ChatID: args[1], UserID: args[2]}
	switch args[0] {
	case "add":
		x.call("AddAdmin", req, nil, done)
	case "remove":
		x.call("RemoveAdmin", req, nil, done)
	default:
		fmt.Fprintf(os.Stderr, "unknown admin subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdRename(x *cli, args []string) {
	need(args, 2, "rename <chat> <name>")
	name := strings.Join(args[1:], " ")
	x.call("UpdateChat", rpc.UpdateChatRequest{ChatID: args[0], ChatName: &name}, nil, done)
}

func cmdInvite(x *cli, args []string) {
	need(args, 2, "invite regen|qr <chat> [out.png]")
	switch args[0] {
	case "regen":
		var resp rpc.InviteResponse
		x.call("RegenerateInvite", rpc.ChatRequest{ChatID: args[1]}, &resp, func() {
			fmt.Println(resp.Link)
		})
	case "qr":
		need(args, 3, "invite qr <chat> <out.png>")
		var resp rpc.InviteQRResponse
		x.call("InviteQR", rpc.InviteQRRequest{ChatID: args[1], Size: 512}, &resp, func() {
			if err := os.WriteFile(args[2], resp.PNG, 0600); err != nil {
				fail(err)
			}
			fmt.Printf("%s -> %s\n", resp.Link, args[2])
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown invite subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdBlock(x *cli, args []string) {
	need(args, 1, "block <user>")
	x.call("Block", rpc.UserRequest{UserID: args[0]}, nil, done)
}

func cmdUnblock(x *cli, args []string) {
	need(args, 1, "unblock <user>")
	x.call("Unblock", rpc.UserRequest{UserID: args[0]}, nil, done)
}

func cmdBlocks(x *cli, _ []string) {
	var resp rpc.BlocksResponse
	x.call("ListBlocks", nil, &resp, func() {
		for _, u := range resp.Users {
			fmt.Println(u)
		}
	})
}

func printSent(resp *rpc.SendResponse) func() {
	return func() {
		fmt.Println(resp.Message.ID)
		warnFailed(resp.FailedMembers)
	}
}

func cmdSend(x *cli, args []string) {
	need(args, 2, "send <chat> <text>...")
	var resp rpc.SendResponse
	x.call("SendText", rpc.SendTextRequest{ChatID: args[0], Text: strings.Join(args[1:], " ")}, &resp, printSent(&resp))
}

// local resolves a file argument for the daemon, which may run elsewhere
// in the filesystem. URLs are returned as is with ok false.
func local(arg string) (string, bool) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return arg, false
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		fail(err)
	}
	return abs, true
}

func cmdSendImage(x *cli, args []string) {
	need(args, 2, "send-image <chat> <file|url>")
	req := rpc.SendImageRequest{ChatID: args[0]}
	if p, isFile := local(args[1]); isFile {
		req.File = p
	} else {
		req.ImageURL = p
	}
	var resp rpc.SendResponse
	x.call("SendImage", req, &resp, printSent(&resp))
}

func cmdSendDoc(x *cli, args []string) {
	need(args, 2, "send-doc <chat> <file|url> [name]")
	req := rpc.SendDocumentRequest{ChatID: args[0]}
	if p, isFile := local(args[1]); isFile {
		req.File = p
	} else {
		req.DocumentURL = p
		req.Name = filepath.Base(p)
	}
	if len(args) > 2 {
		req.Name = strings.Join(args[2:], " ")
	}
	var resp rpc.SendResponse
	x.call("SendDocument", req, &resp, printSent(&resp))
}

func cmdStar(x *cli, args []string) {
	need(args, 2, "star <chat> <message>")
	var resp rpc.StarResponse
	x.call("StarMessage", rpc.MessageRequest{ChatID: args[0], MessageID: args[1]}, &resp, func() {
		if resp.Starred {
			fmt.Println("Starred")
		} else {
			fmt.Println("Unstarred")
		}
	})
}

func cmdStarred(x *cli, _ []string) {
	var resp rpc.ListStarredResponse
	x.call("ListStarred", nil, &resp, func() {
		for _, s := range resp.Starred {
			text := "(message no longer available)"
			if s.Message != nil {
				text = s.Message.Text
			}
			fmt.Printf("%s %s %s %s\n", s.StarredAt, s.ChatID, s.MessageID, text)
		}
	})
}

func cmdDeleteForMe(x *cli, args []string) {
	need(args, 2, "delete-me <chat> <message>")
	x.call("DeleteForMe", rpc.MessageRequest{ChatID: args[0], MessageID: args[1]}, nil, done)
}

func cmdDeleteForAll(x *cli, args []string) {
	need(args, 2, "delete-all <chat> <message>")
	x.call("DeleteForAll", rpc.MessageRequest{ChatID: args[0], MessageID: args[1]}, nil, done)
}

func cmdClear(x *cli, args []string) {
	need(args, 1, "clear <chat>")
	x.call("DeleteAllMessages", rpc.ChatRequest{ChatID: args[0]}, nil, done)
}

func cmdDeleteChat(x *cli, args []string) {
	need(args, 1, "delete-chat <chat>")
	var resp rpc.DeleteChatResponse
	x.call("DeleteChat", rpc.ChatRequest{ChatID: args[0]}, &resp, func() {
		done()
		warnFailed(resp.FailedMembers)
	})
}

func cmdHide(x *cli, args []string) {
	need(args, 1, "hide <chat>")
	x.call("HideChat", rpc.ChatRequest{ChatID: args[0]}, nil, done)
}

func cmdUser(x *cli, args []string) {
	need(args, 1, "user save|get|search")
	switch args[0] {
	case "save":
		fs := flag.NewFlagSet("user save", flag.ExitOnError)
		first := fs.String("first", "", "first name")
		last := fs.String("last", "", "last name")
		email := fs.String("email", "", "email")
		role := fs.String("role", string(chat.RoleStudent), "student or facultyMember")
		number := fs.String("number", "", "student number")
		about := fs.String("about", "", "about text")
		picture := fs.String("picture", "", "profile picture URL")
		_ = fs.Parse(args[1:])
		u := chat.User{
			FirstName:      *first,
			LastName:       *last,
			Email:          *email,
			SelectedRole:   chat.Role(*role),
			StudentNumber:  *number,
			About:          *about,
			ProfilePicture: *picture,
		}
		x.call("SaveUser", u, nil, done)
	case "get":
		req := rpc.UserRequest{}
		if len(args) > 1 {
			req.UserID = args[1]
		}
		var resp rpc.UserResponse
		x.call("GetUser", req, &resp, func() { printUser(resp.User) })
	case "search":
		need(args, 2, "user search <query>")
		var resp rpc.SearchUsersResponse
		x.call("SearchUsers", rpc.SearchUsersRequest{Query: strings.Join(args[1:], " ")}, &resp, func() {
			for _, u := range resp.Users {
				printUser(u)
			}
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown user subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func printUser(u chat.User) {
	fmt.Printf("%-24s %-24s %-14s %s\n", u.UserID, u.FullName(), u.SelectedRole, u.Email)
}

func cmdToken(x *cli, args []string) {
	need(args, 1, "token <push-token>")
	x.call("AddPushToken", rpc.PushTokenRequest{Token: args[0]}, nil, done)
}

func cmdPushes(x *cli, args []string) {
	req := rpc.ListPushesRequest{}
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fail(fmt.Errorf("limit: %w", err))
		}
		req.Limit = n
	}
	var resp rpc.ListPushesResponse
	x.call("ListPushes", req, &resp, func() {
		for _, p := range resp.Pushes {
			line := fmt.Sprintf("%s #%d %-8s %s: %s", p.CreatedAt, p.ID, p.Status, p.Title, p.Body)
			if p.Error != "" {
				line += " (" + p.Error + ")"
			}
			fmt.Println(line)
		}
	})
}
