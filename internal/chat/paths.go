package chat

import "github.com/matheus3301/campus/internal/tree"

// Tree layout. The exported paths are the ones a client watches.

const (
	chatsRoot = "chats"
	usersRoot = "users"
)

func ChatPath(chatID string) string { return tree.Join(chatsRoot, chatID) }

func UserChatsPath(userID string) string { return tree.Join("userChats", userID) }

func MessagesPath(chatID string) string { return tree.Join("messages", chatID) }

func UserMessagesPath(userID, chatID string) string {
	return tree.Join("userMessages", userID, chatID)
}

func UserStarredPath(userID string) string { return tree.Join("userStarredMessages", userID) }

func UserBlocksPath(userID string) string { return tree.Join("userBlocks", userID) }

func userChatPath(userID, chatID string) string { return tree.Join(UserChatsPath(userID), chatID) }

func messagePath(chatID, messageID string) string { return tree.Join(MessagesPath(chatID), messageID) }

func userMessagePath(userID, chatID, messageID string) string {
	return tree.Join(UserMessagesPath(userID, chatID), messageID)
}

func starredPath(userID, chatID, messageID string) string {
	return tree.Join(UserStarredPath(userID), chatID, messageID)
}

func blockPath(userID, blockedID string) string { return tree.Join(UserBlocksPath(userID), blockedID) }

func userPath(userID string) string { return tree.Join(usersRoot, userID) }

func pushTokensPath(userID string) string { return tree.Join(userPath(userID), "pushTokens") }
