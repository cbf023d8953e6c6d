package eligibility

import (
	"testing"

	"github.com/jmgilman/go/dexcache/artifact"
	"github.com/stretchr/testify/assert"
)

func externalJar() artifact.Descriptor {
	return artifact.Descriptor{
		Path:         "/home/user/.gradle/caches/modules-2/files-2.1/com.example/libfoo/1.0/libfoo-1.0.jar",
		Format:       artifact.FormatJar,
		Scopes:       artifact.ScopeExternalLibraries,
		ContentTypes: artifact.ContentTypeClasses,
		Name:         "com.example:libfoo:1.0",
	}
}

func TestPolicy_Check(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *artifact.Descriptor)
		backend bool
		want    Reason
	}{
		{
			name:    "external jar is eligible",
			mutate:  func(d *artifact.Descriptor) {},
			backend: true,
			want:    ReasonEligible,
		},
		{
			name:    "no backend",
			mutate:  func(d *artifact.Descriptor) {},
			backend: false,
			want:    ReasonNoBackend,
		},
		{
			name:    "no backend wins over every other rule",
			mutate:  func(d *artifact.Descriptor) { d.Path = "/x/lib-1.0-SNAPSHOT.jar"; d.Scopes = artifact.ScopeProject },
			backend: false,
			want:    ReasonNoBackend,
		},
		{
			name:    "directory input",
			mutate:  func(d *artifact.Descriptor) { d.Format = artifact.FormatDirectory },
			backend: true,
			want:    ReasonNotFile,
		},
		{
			name: "mixed scopes",
			mutate: func(d *artifact.Descriptor) {
				d.Scopes = artifact.Scopes(artifact.ScopeExternalLibraries, artifact.ScopeProject)
			},
			backend: true,
			want:    ReasonScope,
		},
		{
			name:    "project scope",
			mutate:  func(d *artifact.Descriptor) { d.Scopes = artifact.ScopeProject },
			backend: true,
			want:    ReasonScope,
		},
		{
			name:    "empty scopes",
			mutate:  func(d *artifact.Descriptor) { d.Scopes = 0 },
			backend: true,
			want:    ReasonScope,
		},
		{
			name: "classes and resources",
			mutate: func(d *artifact.Descriptor) {
				d.ContentTypes = artifact.ContentTypes(artifact.ContentTypeClasses, artifact.ContentTypeResources)
			},
			backend: true,
			want:    ReasonContentType,
		},
		{
			name:    "dex content",
			mutate:  func(d *artifact.Descriptor) { d.ContentTypes = artifact.ContentTypeDex },
			backend: true,
			want:    ReasonContentType,
		},
		{
			name:    "local jar tagged external",
			mutate:  func(d *artifact.Descriptor) { d.Name = DefaultLocalModulePrefix + "libs/vendor.jar" },
			backend: true,
			want:    ReasonLocalModule,
		},
		{
			name:    "local jar group without artifact separator",
			mutate:  func(d *artifact.Descriptor) { d.Name = "android.local.jars.generated" },
			backend: true,
			want:    ReasonLocalModule,
		},
		{
			name:    "local jar group with artifact",
			mutate:  func(d *artifact.Descriptor) { d.Name = "android.local.jars:vendor.jar:unspecified" },
			backend: true,
			want:    ReasonLocalModule,
		},
		{
			name:    "prefix only matters at the start",
			mutate:  func(d *artifact.Descriptor) { d.Name = "com.example:" + DefaultLocalModulePrefix },
			backend: true,
			want:    ReasonEligible,
		},
		{
			name:    "snapshot path",
			mutate:  func(d *artifact.Descriptor) { d.Path = "/repo/com/example/libfoo/1.1-SNAPSHOT/libfoo-1.1-SNAPSHOT.jar" },
			backend: true,
			want:    ReasonMutableVersion,
		},
		{
			name:    "snapshot marker in name only is ignored",
			mutate:  func(d *artifact.Descriptor) { d.Name = "com.example:libfoo:1.1-SNAPSHOT" },
			backend: true,
			want:    ReasonEligible,
		},
	}

	policy := DefaultPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := externalJar()
			tt.mutate(&d)

			got := policy.Check(d, tt.backend)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want == ReasonEligible, policy.IsEligible(d, tt.backend))
		})
	}
}

func TestPolicy_CustomMarkers(t *testing.T) {
	p := Policy{MutableVersionMarkers: []string{"-SNAPSHOT", "+dev", ""}}

	d := externalJar()
	d.Path = "/repo/libfoo-2.0+dev.jar"
	assert.Equal(t, ReasonMutableVersion, p.Check(d, true))

	d.Name = DefaultLocalModulePrefix + "foo"
	d.Path = "/repo/libfoo-2.0.jar"
	assert.Equal(t, ReasonEligible, p.Check(d, true), "empty prefix disables the local jar rule")
}

func TestReason_String(t *testing.T) {
	assert.Equal(t, "eligible", ReasonEligible.String())
	assert.Equal(t, string(ReasonScope), ReasonScope.String())
}
