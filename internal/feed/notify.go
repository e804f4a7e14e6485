package feed

import (
	"log"

	"tubewatch/internal/channel"
)

// Notifier is told about new videos after refreshes
type Notifier interface {
	ChannelNewVideo(ch channel.Channel, title string)
	ChannelNewVideos(ch channel.Channel, count int)
	ChannelsNewVideos(channels, videos int)
}

// LogNotifier writes notifications to a logger
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) ChannelNewVideo(ch channel.Channel, title string) {
	n.Logger.Printf("New video from %s: %s", ch.Name(), title)
}

func (n LogNotifier) ChannelNewVideos(ch channel.Channel, count int) {
	n.Logger.Printf("%d new videos from %s", count, ch.Name())
}

func (n LogNotifier) ChannelsNewVideos(channels, videos int) {
	n.Logger.Printf("%d new videos from %d channels", videos, channels)
}
