// Package artifacts stores and retrieves run artifacts in the platform
// datasets service, addressed by 'faculty-datasets:/<project-id>/<path>'
// URIs.
package artifacts

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/facultyai/mlflow-faculty/config"
	"github.com/facultyai/mlflow-faculty/internal/rest"
	"github.com/facultyai/mlflow-faculty/objects"
	"github.com/facultyai/mlflow-faculty/store"
	"github.com/facultyai/mlflow-faculty/tracking"
)

// Scheme is the artifact URI scheme handled by this package.
const Scheme = "faculty-datasets"

// uploadConcurrency bounds parallel uploads when logging a directory.
const uploadConcurrency = 8

// objectsAPI is the slice of the objects client the repository uses.
type objectsAPI interface {
	ListAll(ctx context.Context, projectID uuid.UUID, prefix string) ([]objects.Object, error)
	Upload(ctx context.Context, projectID uuid.UUID, datasetsPath, localPath string) error
	Download(ctx context.Context, projectID uuid.UUID, datasetsPath, localPath string) error
}

// Repository reads and writes artifacts under one datasets prefix of one
// project.
type Repository struct {
	projectID    uuid.UUID
	artifactRoot string
	client       objectsAPI
}

// NewRepository builds a repository for an artifact URI using the ambient
// credential profile.
func NewRepository(artifactURI string) (*Repository, error) {
	projectID, root, err := ParseArtifactURI(artifactURI)
	if err != nil {
		return nil, err
	}

	profile, err := config.Load()
	if err != nil {
		return nil, err
	}
	tokens := rest.NewCredentialsTokenSource(profile)
	client := objects.NewClient(profile.ServiceURL("object"), tokens)

	return &Repository{projectID: projectID, artifactRoot: root, client: client}, nil
}

// ParseArtifactURI splits an artifact URI into a project ID and a datasets
// root path. The root always carries a trailing slash so it can be used
// directly as a listing prefix.
func ParseArtifactURI(artifactURI string) (uuid.UUID, string, error) {
	parsed, err := url.Parse(artifactURI)
	if err != nil || parsed.Scheme != Scheme {
		return uuid.Nil, "", fmt.Errorf("not a %s URI: %s", Scheme, artifactURI)
	}
	if parsed.Host != "" {
		return uuid.Nil, "", fmt.Errorf(
			"invalid URI %s. Netloc is reserved. Did you mean '%s:%s%s'",
			artifactURI, Scheme, parsed.Host, parsed.Path)
	}

	cleaned := parsed.Path
	if cleaned == "" {
		cleaned = parsed.Opaque
	}
	cleaned = strings.TrimLeft(cleaned, "/")

	projectPart, rootPart, _ := strings.Cut(cleaned, "/")
	projectID, err := uuid.Parse(projectPart)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%s in given URI %s is not a valid UUID", projectPart, artifactURI)
	}

	root := path.Join("/", rootPart)
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return projectID, root, nil
}

// resolve maps an artifact path onto its datasets path under the root.
func (r *Repository) resolve(artifactPath string) string {
	if artifactPath == "" {
		return strings.TrimSuffix(r.artifactRoot, "/")
	}
	return path.Join(r.artifactRoot, artifactPath)
}

// LogArtifact uploads one local file. artifactPath names the destination
// directory relative to the artifact root; empty means the root itself.
func (r *Repository) LogArtifact(ctx context.Context, localFile, artifactPath string) error {
	dest := path.Join(r.resolve(artifactPath), filepath.Base(localFile))
	return r.client.Upload(ctx, r.projectID, dest, localFile)
}

// LogArtifacts uploads the contents of a local directory, preserving its
// layout under artifactPath. Files upload concurrently.
func (r *Repository) LogArtifacts(ctx context.Context, localDir, artifactPath string) error {
	destRoot := r.resolve(artifactPath)

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(uploadConcurrency)

	err := filepath.WalkDir(localDir, func(localPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		relative, err := filepath.Rel(localDir, localPath)
		if err != nil {
			return err
		}
		dest := path.Join(destRoot, filepath.ToSlash(relative))
		group.Go(func() error {
			return r.client.Upload(ctx, r.projectID, dest, localPath)
		})
		return nil
	})
	if err != nil {
		group.Wait()
		return err
	}
	return group.Wait()
}

// ListArtifacts lists objects under an artifact path, one level deep in
// path terms being the caller's concern: entries come back for everything
// under the prefix, with directories marked by their size being unset.
func (r *Repository) ListArtifacts(ctx context.Context, artifactPath string) ([]tracking.FileInfo, error) {
	prefix := r.resolve(artifactPath)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	listed, err := r.client.ListAll(ctx, r.projectID, prefix)
	if err != nil {
		return nil, err
	}

	infos := make([]tracking.FileInfo, 0, len(listed))
	for _, obj := range listed {
		if obj.Path == prefix || obj.Path == strings.TrimSuffix(prefix, "/") {
			// The prefix itself comes back as a directory entry.
			continue
		}
		info, err := store.ObjectToFileInfo(obj, r.artifactRoot)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DownloadArtifact fetches one artifact into a local file, creating parent
// directories as needed.
func (r *Repository) DownloadArtifact(ctx context.Context, artifactPath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return r.client.Download(ctx, r.projectID, r.resolve(artifactPath), localPath)
}
