package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"tubewatch/internal/channel"
	"tubewatch/internal/database"
	"tubewatch/internal/feed"
	"tubewatch/internal/rss"
	"tubewatch/internal/server"
	"tubewatch/internal/youtube"
)

var errUsage = errors.New("usage")

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "list":
		return a.list(ctx)
	case "add":
		return a.add(ctx, args)
	case "remove":
		return a.remove(ctx, args)
	case "videos":
		return a.videos(ctx, args)
	case "show":
		return a.show(ctx, args)
	case "watched":
		return a.setVideoFlag(ctx, database.FlagWatched, args)
	case "downloaded":
		return a.setVideoFlag(ctx, database.FlagDownloaded, args)
	case "mark-all":
		return a.markAll(ctx, args)
	case "refresh":
		return a.refresh(ctx, args)
	case "refresh-all":
		return a.refreshAll(ctx)
	case "watch":
		return a.watch(ctx, args)
	case "flag":
		return a.userFlag(ctx, args)
	case "filter":
		return a.filter(ctx, args)
	case "export":
		return a.export(ctx, args)
	case "serve":
		return a.serve(ctx, args)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func need(args []string, n int, form string) error {
	if len(args) != n {
		return fmt.Errorf("%w: %s", errUsage, form)
	}
	return nil
}

// channelArg finds a channel or filter by id, list position or name
func (a *app) channelArg(arg string) (channel.Channel, error) {
	if ch := a.dir.Find(arg); ch != nil {
		return ch, nil
	}
	all := a.dir.All()
	if i, err := strconv.Atoi(arg); err == nil && i >= 0 && i < len(all) {
		return all[i], nil
	}
	for _, ch := range all {
		if strings.EqualFold(ch.Name(), arg) {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", channel.ErrNoSuchChannel, arg)
}

func (a *app) virtualArg(arg string) (*channel.Virtual, error) {
	ch, err := a.channelArg(arg)
	if err != nil {
		return nil, err
	}
	v, ok := ch.(*channel.Virtual)
	if !ok {
		return nil, fmt.Errorf("%s is not a filter", ch.Name())
	}
	return v, nil
}

func (a *app) list(ctx context.Context) error {
	last, err := a.service.LastRefresh(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tID\tNAME\tVIDEOS\tUNWATCHED")
	for i, ch := range a.dir.All() {
		switch c := ch.(type) {
		case *channel.Real:
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\n", i, c.ID(), c.Name(), c.Videos(), c.Unwatched())
		default:
			fmt.Fprintf(w, "%d\t%s\t%s\t-\t-\n", i, c.ID(), c.Name())
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !last.IsZero() {
		fmt.Printf("\nLast refresh: %s\n", last.Local().Format(time.DateTime))
	}
	return nil
}

func (a *app) add(ctx context.Context, args []string) error {
	if err := need(args, 2, "add <id|user|handle|url> <value>"); err != nil {
		return err
	}
	sel, err := youtube.ParseSelector(args[0])
	if err != nil {
		return err
	}
	ch, err := a.service.AddChannel(ctx, sel, args[1])
	if err != nil {
		return err
	}
	a.dir.Add(ch)
	fmt.Printf("Added %s (%s)\n", ch.Name(), ch.ID())
	return nil
}

func (a *app) remove(ctx context.Context, args []string) error {
	if err := need(args, 1, "remove <channel>"); err != nil {
		return err
	}
	ch, err := a.channelArg(args[0])
	if err != nil {
		return err
	}
	if ch.IsVirtual() {
		return fmt.Errorf("%s is a filter", ch.Name())
	}
	if err := a.db.DeleteChannel(ctx, ch.ID()); err != nil {
		return err
	}
	a.dir.Remove(ch.ID())
	fmt.Printf("Removed %s\n", ch.Name())
	return nil
}

func (a *app) videos(ctx context.Context, args []string) error {
	if err := need(args, 1, "videos <channel>"); err != nil {
		return err
	}
	ch, err := a.channelArg(args[0])
	if err != nil {
		return err
	}
	session := channel.NewSession(a.dir, a.engine)
	if err := session.Select(ctx, ch.ID()); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, v := range session.Videos() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marks(v), v.ID, v.Timestamp().Local().Format(time.DateOnly), v.Title)
	}
	return w.Flush()
}

func marks(v database.Video) string {
	m := []byte("--")
	if v.Flags&database.FlagWatched != 0 {
		m[0] = 'w'
	}
	if v.Flags&database.FlagDownloaded != 0 {
		m[1] = 'd'
	}
	return string(m)
}

func (a *app) show(ctx context.Context, args []string) error {
	if err := need(args, 1, "show <video>"); err != nil {
		return err
	}
	v, err := a.db.GetVideo(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Title:      %s\n", v.Title)
	fmt.Printf("Link:       https://www.youtube.com/watch?v=%s\n", v.ID)
	fmt.Printf("Channel:    %s\n", v.ChannelID)
	if !v.Published.IsZero() {
		fmt.Printf("Published:  %s\n", v.Published.Local().Format(time.DateTime))
	}
	fmt.Printf("Added:      %s\n", v.AddedToPlaylist.Local().Format(time.DateTime))
	fmt.Printf("Watched:    %t\n", v.Watched())
	fmt.Printf("Downloaded: %t\n", v.Flags&database.FlagDownloaded != 0)
	if v.Description != "" {
		fmt.Printf("\n%s\n", v.Description)
	}
	return nil
}

func (a *app) setVideoFlag(ctx context.Context, vf database.VideoFlag, args []string) error {
	fs := newFlagSet(map[database.VideoFlag]string{database.FlagWatched: "watched", database.FlagDownloaded: "downloaded"}[vf])
	unset := fs.Bool("unset", false, "clear the flag instead of setting it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs.Args(), 1, "watched|downloaded [-unset] <video>"); err != nil {
		return err
	}
	v, err := a.db.GetVideo(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if vf == database.FlagWatched {
		return a.dir.SetWatched(ctx, v, !*unset)
	}
	return a.engine.SetDownloaded(ctx, v, !*unset)
}

func (a *app) markAll(ctx context.Context, args []string) error {
	if err := need(args, 1, "mark-all <channel>"); err != nil {
		return err
	}
	ch, err := a.channelArg(args[0])
	if err != nil {
		return err
	}
	n, err := a.dir.MarkAllWatched(ctx, ch)
	if err != nil {
		return err
	}
	fmt.Printf("Marked %d videos watched\n", n)
	return nil
}

func progress(name string) feed.ProgressFunc {
	return func(processed, total int) {
		fmt.Printf("\r%s: %d/%d", name, processed, total)
	}
}

func (a *app) refresh(ctx context.Context, args []string) error {
	if err := need(args, 1, "refresh <channel>"); err != nil {
		return err
	}
	ch, err := a.channelArg(args[0])
	if err != nil {
		return err
	}
	n, err := a.service.Refresh(ctx, ch, progress(ch.Name()))
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Printf("%d new videos\n", n)
	return nil
}

func (a *app) refreshAll(ctx context.Context) error {
	updated, videos, err := a.service.RefreshAll(ctx, a.dir.All(), nil)
	fmt.Printf("%d new videos in %d channels\n", videos, updated)
	return err
}

func (a *app) watch(ctx context.Context, args []string) error {
	fs := newFlagSet("watch")
	interval := fs.Duration("interval", a.cfg.RefreshInterval, "time between refreshes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *interval <= 0 {
		return errors.New("auto refresh is disabled; set autoRefreshInterval or pass -interval")
	}
	return a.service.Run(ctx, a.dir.All, *interval)
}

func (a *app) userFlag(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: flag list|add|rename|toggle", errUsage)
	}
	switch args[0] {
	case "list":
		list, err := a.registry.List(ctx)
		if err != nil {
			return err
		}
		for _, f := range list {
			fmt.Printf("%#010x  %s\n", f.ID, f.Name)
		}
		return nil

	case "add":
		if err := need(args[1:], 1, "flag add <name>"); err != nil {
			return err
		}
		f, err := a.registry.Allocate(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Added flag %s (%#x)\n", f.Name, f.ID)
		return nil

	case "rename":
		if err := need(args[1:], 2, "flag rename <name> <new name>"); err != nil {
			return err
		}
		f, err := a.registry.Lookup(ctx, args[1])
		if err != nil {
			return err
		}
		return a.registry.Rename(ctx, f.ID, args[2])

	case "toggle":
		if err := need(args[1:], 2, "flag toggle <channel> <flag>"); err != nil {
			return err
		}
		ch, err := a.channelArg(args[1])
		if err != nil {
			return err
		}
		rc, ok := ch.(*channel.Real)
		if !ok {
			return fmt.Errorf("%w: %s", feed.ErrVirtualChannel, ch.Name())
		}
		f, err := a.registry.Lookup(ctx, args[2])
		if err != nil {
			return err
		}
		row, err := a.registry.ToggleChannel(ctx, rc.Row(), f.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s %s\n", row.Name, f.Name, map[bool]string{true: "set", false: "cleared"}[row.UserFlags&f.ID != 0])
		return nil
	}
	return fmt.Errorf("%w: unknown flag command %q", errUsage, args[0])
}

func (a *app) filter(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: filter create|rename|toggle", errUsage)
	}
	switch args[0] {
	case "create":
		if err := need(args[1:], 1, "filter create <name>"); err != nil {
			return err
		}
		v, err := a.engine.CreateFilter(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Created %s (%s)\n", v.Name(), v.ID())
		return nil

	case "rename":
		if err := need(args[1:], 2, "filter rename <filter> <new name>"); err != nil {
			return err
		}
		v, err := a.virtualArg(args[1])
		if err != nil {
			return err
		}
		return a.engine.RenameFilter(ctx, v, args[2])

	case "toggle":
		if err := need(args[1:], 2, "filter toggle <filter> watched|downloaded|<flag>"); err != nil {
			return err
		}
		v, err := a.virtualArg(args[1])
		if err != nil {
			return err
		}
		if err := a.toggleFilterBit(ctx, v, args[2]); err != nil {
			return err
		}
		printFilter(os.Stdout, v.Filter())
		return nil
	}
	return fmt.Errorf("%w: unknown filter command %q", errUsage, args[0])
}

func (a *app) toggleFilterBit(ctx context.Context, v *channel.Virtual, bit string) error {
	switch strings.ToLower(bit) {
	case "watched":
		return a.engine.ToggleFilterVideoBit(ctx, v, database.FlagWatched)
	case "downloaded":
		return a.engine.ToggleFilterVideoBit(ctx, v, database.FlagDownloaded)
	}
	f, err := a.registry.Lookup(ctx, bit)
	if err != nil {
		return err
	}
	return a.engine.ToggleFilterUserBit(ctx, v, f.ID)
}

func printFilter(w io.Writer, f database.ChannelFilter) {
	fmt.Fprintf(w, "%s: watched=%s downloaded=%s user=%#x/%#x\n", f.Name,
		f.Video.State(uint32(database.FlagWatched)),
		f.Video.State(uint32(database.FlagDownloaded)),
		f.User.Mask, f.User.Value&f.User.Mask)
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := newFlagSet("export")
	out := fs.String("o", "", "output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := need(fs.Args(), 1, "export [-o file] <channel>"); err != nil {
		return err
	}
	ch, err := a.channelArg(fs.Arg(0))
	if err != nil {
		return err
	}
	videos, err := a.engine.Videos(ctx, ch)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return rss.Write(w, rss.Build(ch.Name(), rss.ChannelLink(ch.ID()), videos, time.Now()))
}

func (a *app) serve(ctx context.Context, args []string) error {
	fs := newFlagSet("serve")
	addr := fs.String("addr", ":8080", "address to listen on")
	base := fs.String("base-url", "", "public URL used in feed self links")
	refresh := fs.Bool("refresh", false, "also refresh channels every autoRefreshInterval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := server.DefaultConfig()
	cfg.BaseURL = *base
	srv, err := server.NewServer(a.db, a.logger, a.service, cfg)
	if err != nil {
		return err
	}

	if *refresh {
		if a.cfg.RefreshInterval <= 0 {
			return errors.New("auto refresh is disabled; set autoRefreshInterval")
		}
		go func() {
			if err := a.service.Run(ctx, a.dir.All, a.cfg.RefreshInterval); err != nil {
				a.logger.Printf("Auto refresh stopped: %v", err)
			}
		}()
	}
	return srv.Start(ctx, *addr)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}
