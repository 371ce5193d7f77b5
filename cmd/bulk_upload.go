package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/yawon3/pocali-backend/internal/catalog"
)

// bulkUploader posts every image under a directory to a running server's
// admin upload endpoint.
type bulkUploader struct {
	server   string
	password string
	dryRun   bool
	client   *http.Client
	out      io.Writer
}

// bulkResult counts the outcome of a bulk upload.
type bulkResult struct {
	Uploaded int
	Skipped  int
	Failed   int
}

// uploadResponse is the JSON body returned by /admin/upload.
type uploadResponse struct {
	Filename    string `json:"filename"`
	SubCategory string `json:"sub_category"`
	URL         string `json:"url"`
	Error       string `json:"error"`
}

var (
	okLabel   = color.New(color.FgGreen).SprintFunc()
	skipLabel = color.New(color.FgYellow).SprintFunc()
	failLabel = color.New(color.FgRed, color.Bold).SprintFunc()
)

// run walks root. Each file is uploaded with its folder relative to root as
// the sub-category and its name without extension as the custom name.
// A failed file doesn't stop the walk.
func (b *bulkUploader) run(ctx context.Context, root string) (bulkResult, error) {
	var res bulkResult
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if !catalog.AllowedFile(name) {
			res.Skipped++
			fmt.Fprintf(b.out, "%s %s: not an image\n", skipLabel("SKIP"), p)
			return nil
		}

		rel, err := filepath.Rel(root, filepath.Dir(p))
		if err != nil {
			return err
		}
		sub := filepath.ToSlash(rel)
		if sub == "." {
			sub = ""
		}
		custom := strings.TrimSuffix(name, filepath.Ext(name))

		if b.dryRun {
			res.Uploaded++
			fmt.Fprintf(b.out, "%s %s -> %s\n", okLabel("DRY"), p, path.Join(sub, custom+"<id>"+filepath.Ext(name)))
			return nil
		}

		up, err := b.upload(ctx, p, sub, custom)
		if err != nil {
			res.Failed++
			fmt.Fprintf(b.out, "%s %s: %v\n", failLabel("FAIL"), p, err)
			return nil
		}
		res.Uploaded++
		fmt.Fprintf(b.out, "%s %s -> %s\n", okLabel("OK"), p, path.Join(up.SubCategory, up.Filename))
		return nil
	})
	return res, err
}

// upload posts a single file.
func (b *bulkUploader) upload(ctx context.Context, file, sub, custom string) (uploadResponse, error) {
	var resp uploadResponse

	f, err := os.Open(file)
	if err != nil {
		return resp, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(file))
	if err != nil {
		return resp, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return resp, err
	}
	if err := mw.WriteField("custom_filename", custom); err != nil {
		return resp, err
	}
	if err := mw.WriteField("file_type", sub); err != nil {
		return resp, err
	}
	if err := mw.Close(); err != nil {
		return resp, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(b.server, "/")+"/admin/upload", &body)
	if err != nil {
		return resp, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if b.password != "" {
		req.SetBasicAuth("admin", b.password)
	}

	r, err := b.client.Do(req)
	if err != nil {
		return resp, err
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, fmt.Errorf("status %d: unexpected response %.200q", r.StatusCode, data)
	}
	if r.StatusCode != http.StatusCreated {
		if resp.Error == "" {
			resp.Error = http.StatusText(r.StatusCode)
		}
		return resp, fmt.Errorf("status %d: %s", r.StatusCode, resp.Error)
	}
	return resp, nil
}

var (
	bulkServer   string
	bulkPassword string
	bulkDryRun   bool
)

var bulkUploadCmd = &cobra.Command{
	Use:   "bulk-upload <dir>",
	Short: "Upload a directory of images to a running server",
	Long: `Walk <dir> and post every image to the server's /admin/upload endpoint.
The folder of each file relative to <dir> becomes its sub-category and the
file name without extension its custom name; the server appends the next
unique id.

Examples:
  pocali bulk-upload ./static/images --server https://pocali.example.com --password secret
  pocali bulk-upload ./incoming --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := args[0]
		if info, err := os.Stat(root); err != nil {
			return err
		} else if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", root)
		}

		password := bulkPassword
		if password == "" {
			password = cfg.Admin.Password
		}
		b := &bulkUploader{
			server:   bulkServer,
			password: password,
			dryRun:   bulkDryRun,
			client:   &http.Client{Timeout: 2 * time.Minute},
			out:      cmd.OutOrStdout(),
		}
		res, err := b.run(cmd.Context(), root)
		fmt.Fprintf(cmd.OutOrStdout(), "%d uploaded, %d skipped, %d failed\n", res.Uploaded, res.Skipped, res.Failed)
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			return errors.New("some uploads failed")
		}
		return nil
	},
}

func init() {
	bulkUploadCmd.Flags().StringVarP(&bulkServer, "server", "s", "http://localhost:5000", "base URL of the pocali server")
	bulkUploadCmd.Flags().StringVarP(&bulkPassword, "password", "p", "", "admin password (default: admin.password from the config)")
	bulkUploadCmd.Flags().BoolVar(&bulkDryRun, "dry-run", false, "print what would be uploaded without sending anything")
	rootCmd.AddCommand(bulkUploadCmd)
}
