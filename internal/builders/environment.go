package builders

import (
	"context"
	"log/slog"
	"path/filepath"

	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// DefaultPackages are installed into every virtualenv when the
// configuration lists none.
var DefaultPackages = []string{"sphinx", "sphinx_rtd_theme", "mkdocs", "readthedocs-sphinx-ext"}

// SetupEnvironment creates the version's virtualenv and installs the build
// packages, the project's requirements file and optionally the project
// itself. Projects without use_virtualenv build with the host tools.
func SetupEnvironment(ctx context.Context, env Env, packages []string) Outcome {
	p, v := env.Project, env.Version
	if !p.UseVirtualenv {
		return Success("")
	}
	if len(packages) == 0 {
		packages = DefaultPackages
	}
	venv := env.Layout.Env(p.Slug, v.Slug)
	interpreter := p.PythonInterpreter
	if interpreter == "" {
		interpreter = "python3"
	}

	res := env.run(ctx, env.Checkout, "virtualenv", "--python", interpreter, venv)
	if res.Missing() {
		slog.Info("virtualenv not available, using venv", logfields.Project(p.Slug))
		res = env.run(ctx, env.Checkout, interpreter, "-m", "venv", venv)
	}
	out := fromResult(res)
	if !out.OK() {
		return out
	}

	pip := env.bin("pip")
	out = out.then(fromResult(env.run(ctx, env.Checkout, pip,
		append([]string{"install", "--upgrade"}, packages...)...)))
	if !out.OK() {
		return out
	}

	if req := requirementsFile(env); req != "" {
		out = out.then(fromResult(env.run(ctx, env.Checkout, pip, "install", "-r", req)))
		if !out.OK() {
			return out
		}
	}

	if p.InstallProject {
		switch {
		case exists(filepath.Join(env.Checkout, "setup.py")):
			out = out.then(fromResult(env.run(ctx, env.Checkout, env.bin("python"), "setup.py", "install", "--force")))
		case exists(filepath.Join(env.Checkout, "pyproject.toml")):
			out = out.then(fromResult(env.run(ctx, env.Checkout, pip, "install", ".")))
		}
	}
	return out
}

// requirementsFile is the configured file when present, otherwise a
// requirements.txt next to the docs.
func requirementsFile(env Env) string {
	if rel := env.Project.RequirementsFile; rel != "" {
		p := filepath.Join(env.Checkout, filepath.Clean("/"+rel))
		if exists(p) {
			return p
		}
		slog.Warn("Requirements file not found", logfields.Project(env.Project.Slug), logfields.Path(rel))
		return ""
	}
	for _, candidate := range []string{"docs/requirements.txt", "requirements.txt"} {
		if p := filepath.Join(env.Checkout, candidate); exists(p) {
			return p
		}
	}
	return ""
}
