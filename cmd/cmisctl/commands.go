package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ggoodman/cmis-bindings-go/client"
	"github.com/ggoodman/cmis-bindings-go/cmis"
	"github.com/ggoodman/cmis-bindings-go/relay"
)

func dispatch(ctx context.Context, c *client.Client, o *options, args []string) error {
	cmd, rest := args[0], args[1:]
	need := func(n int) error {
		if len(rest) != n {
			return fmt.Errorf("%s: want %d arguments, got %d", cmd, n, len(rest))
		}
		return nil
	}
	switch cmd {
	case "get":
		if err := need(1); err != nil {
			return err
		}
		obj, err := c.GetObject(ctx, rest[0], cmis.ObjectOptions{IncludeAllowableActions: true})
		if err != nil {
			return err
		}
		printObject(os.Stdout, obj)
	case "latest":
		if err := need(1); err != nil {
			return err
		}
		obj, err := c.GetObjectOfLatestVersion(ctx, rest[0], o.major, cmis.ObjectOptions{})
		if err != nil {
			return err
		}
		printObject(os.Stdout, obj)
	case "fetch":
		if err := need(1); err != nil {
			return err
		}
		return fetch(ctx, c, o, rest[0], os.Stdout)
	case "create":
		if err := need(2); err != nil {
			return err
		}
		cs, err := openContent(rest[1], o.mimeType)
		if err != nil {
			return err
		}
		name := o.name
		if name == "" {
			name = cs.Filename
		}
		props := cmis.Properties{}
		props.Set(cmis.PropObjectTypeID, cmis.PropertyTypeID, o.typeID)
		props.Set(cmis.PropName, cmis.PropertyTypeString, name)
		obj, err := c.CreateDocument(ctx, &cmis.CreateDocumentRequest{Properties: props, FolderID: rest[0], Content: cs})
		if err != nil {
			return err
		}
		fmt.Println(obj.ID())
	case "mkdir":
		if err := need(2); err != nil {
			return err
		}
		props := cmis.Properties{}
		props.Set(cmis.PropObjectTypeID, cmis.PropertyTypeID, string(cmis.BaseTypeFolder))
		props.Set(cmis.PropName, cmis.PropertyTypeString, rest[1])
		obj, err := c.CreateFolder(ctx, &cmis.CreateFolderRequest{Properties: props, FolderID: rest[0]})
		if err != nil {
			return err
		}
		fmt.Println(obj.ID())
	case "put":
		if err := need(2); err != nil {
			return err
		}
		cs, err := openContent(rest[1], o.mimeType)
		if err != nil {
			return err
		}
		return c.SetContentStream(ctx, rest[0], true, cs)
	case "rm":
		if err := need(1); err != nil {
			return err
		}
		return c.DeleteObject(ctx, rest[0], o.all)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func fetch(ctx context.Context, c *client.Client, o *options, id string, w io.Writer) error {
	var offset, length *int64
	if o.offset >= 0 {
		offset = &o.offset
	}
	if o.length >= 0 {
		length = &o.length
	}
	rng, err := cmis.NewByteRange(offset, length)
	if err != nil {
		return err
	}
	cs, err := c.GetContentStream(ctx, id, rng)
	if err != nil {
		return err
	}
	// Copy closes sinks that are closers; buffer stdout instead of handing
	// it over.
	_, err = relay.Copy(bufio.NewWriter(w), cs.Stream, relay.DefaultChunkSize)
	return err
}

func openContent(path, mimeType string) (*cmis.ContentStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
	}
	return &cmis.ContentStream{
		Filename: filepath.Base(path),
		MimeType: mimeType,
		Length:   st.Size(),
		Stream:   f,
	}, nil
}

func printObject(w io.Writer, obj *cmis.ObjectData) {
	ids := obj.Properties.IDs()
	sort.Strings(ids)
	for _, id := range ids {
		p := obj.Properties[id]
		vals := make([]string, 0, len(p.Values))
		for _, v := range p.Values {
			vals = append(vals, fmt.Sprint(v))
		}
		fmt.Fprintf(w, "%-32s %s\n", id, strings.Join(vals, ", "))
	}
	if len(obj.AllowableActions) > 0 {
		actions := append([]string(nil), obj.AllowableActions...)
		sort.Strings(actions)
		fmt.Fprintf(w, "%-32s %s\n", "allowableActions", strings.Join(actions, " "))
	}
}
