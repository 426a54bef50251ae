package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Channel names, relative to the configured prefix (default "chat")
const (
	ChannelMessageNew     = "message.new" // gateway → write-path only
	ChannelMessageSaved   = "message.saved"
	ChannelMessageUpdated = "message.updated"
	ChannelMessageDeleted = "message.deleted"

	ChannelPresenceOnline  = "presence.online"
	ChannelPresenceOffline = "presence.offline"

	ChannelTypingStart = "typing.start"
	ChannelTypingStop  = "typing.stop"

	ChannelRoomJoin    = "room.join"
	ChannelRoomLeave   = "room.leave"
	ChannelRoomUpdated = "room.updated"

	ChannelPostNew     = "post.new"
	ChannelPostDeleted = "post.deleted"
	ChannelPostComment = "post.comment"
	ChannelPostLike    = "post.like"

	ChannelResourceNew     = "resource.new"
	ChannelResourceDeleted = "resource.deleted"

	ChannelNotificationNew = "notification.new"
)

var errInvalidData = errors.New("invalid event data")

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", errInvalidData, field)
}

func requireObject(field string, raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return fmt.Errorf("%w: %s must be an object", errInvalidData, field)
	}
	return nil
}

// MessageEvent is published by the write-path after it persists or edits a
// message. Message is the stored record, forwarded to clients untouched.
type MessageEvent struct {
	RoomID  string          `json:"roomId"`
	Message json.RawMessage `json:"message"`
}

func (e MessageEvent) Validate() error {
	if e.RoomID == "" {
		return missing("roomId")
	}
	return requireObject("message", e.Message)
}

// MessageDeleted announces a removed message
type MessageDeleted struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

func (e MessageDeleted) Validate() error {
	if e.RoomID == "" {
		return missing("roomId")
	}
	if e.MessageID == "" {
		return missing("messageId")
	}
	return nil
}

// Presence announces a user's first connection or last disconnection on a
// gateway instance
type Presence struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

func (e Presence) Validate() error {
	if e.UserID == "" {
		return missing("userId")
	}
	return nil
}

// RoomActivity is shared by typing start/stop and room join/leave
type RoomActivity struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (e RoomActivity) Validate() error {
	if e.RoomID == "" {
		return missing("roomId")
	}
	if e.UserID == "" {
		return missing("userId")
	}
	return nil
}

// RoomUpdated carries a room's new metadata
type RoomUpdated struct {
	RoomID string          `json:"roomId"`
	Room   json.RawMessage `json:"room"`
}

func (e RoomUpdated) Validate() error {
	if e.RoomID == "" {
		return missing("roomId")
	}
	return requireObject("room", e.Room)
}

// PostEvent covers post.new and post.deleted. Post is absent on delete.
type PostEvent struct {
	PostID   string          `json:"postId"`
	AuthorID string          `json:"authorId,omitempty"`
	Post     json.RawMessage `json:"post,omitempty"`
}

func (e PostEvent) Validate() error {
	if e.PostID == "" {
		return missing("postId")
	}
	if len(e.Post) > 0 {
		return requireObject("post", e.Post)
	}
	return nil
}

// PostInteraction covers post.comment and post.like. AuthorID owns the post,
// ActorID commented or liked.
type PostInteraction struct {
	PostID   string          `json:"postId"`
	AuthorID string          `json:"authorId"`
	ActorID  string          `json:"actorId"`
	Comment  json.RawMessage `json:"comment,omitempty"`
	Likes    *int            `json:"likes,omitempty"`
}

func (e PostInteraction) Validate() error {
	if e.PostID == "" {
		return missing("postId")
	}
	if e.AuthorID == "" {
		return missing("authorId")
	}
	if e.ActorID == "" {
		return missing("actorId")
	}
	if len(e.Comment) > 0 {
		return requireObject("comment", e.Comment)
	}
	return nil
}

// ResourceEvent covers resource.new and resource.deleted
type ResourceEvent struct {
	ResourceID string          `json:"resourceId"`
	Resource   json.RawMessage `json:"resource,omitempty"`
}

func (e ResourceEvent) Validate() error {
	if e.ResourceID == "" {
		return missing("resourceId")
	}
	if len(e.Resource) > 0 {
		return requireObject("resource", e.Resource)
	}
	return nil
}

// Notification is addressed to exactly one user
type Notification struct {
	UserID       string          `json:"userId"`
	Notification json.RawMessage `json:"notification"`
}

func (e Notification) Validate() error {
	if e.UserID == "" {
		return missing("userId")
	}
	return requireObject("notification", e.Notification)
}

// InteractionNotice is what a post author receives when someone else
// comments on or likes their post
type InteractionNotice struct {
	Kind string `json:"kind"` // post:comment or post:like
	PostInteraction
}

// OutboundMessage is a client chat message handed to the write-path for
// validation and persistence. It is not stored by the gateway.
type OutboundMessage struct {
	RoomID          string `json:"roomId"`
	Content         string `json:"content"`
	Type            string `json:"type"`
	ReplyTo         string `json:"replyTo,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
	SenderID        string `json:"senderId"`
	SenderUsername  string `json:"senderUsername"`
	SocketID        string `json:"socketId"`
}
