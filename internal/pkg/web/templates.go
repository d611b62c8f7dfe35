package web

import (
	"html/template"
	"io/fs"
	"strings"
)

// TemplateParseFSRecursive parses every file with extension ext below templatesDir.
// Templates are named by their path relative to templatesDir, e.g. "partials/mcps.gohtml".
func TemplateParseFSRecursive(
	templates fs.FS,
	templatesDir string,
	ext string,
	funcMap template.FuncMap) (*template.Template, error) {

	pathSeparator := "/"
	templatesDirPartsNum := len(strings.Split(templatesDir, pathSeparator))

	root := template.New("").Funcs(funcMap)
	err := fs.WalkDir(templates, templatesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ext) {
			return nil
		}
		b, err := fs.ReadFile(templates, path)
		if err != nil {
			return err
		}
		parts := strings.Split(path, pathSeparator)
		name := strings.Join(parts[templatesDirPartsNum:], pathSeparator)
		_, err = root.New(name).Parse(string(b))
		return err
	})
	return root, err
}
