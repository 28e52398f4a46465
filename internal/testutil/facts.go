package testutil

import (
	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/ir"
)

// Chores is a small task-list graph:
//
//	User <- List <- Task <- Completion
//
// Build records with the helpers below; nothing is stored.
type Chores struct {
	User fact.Record
	List fact.Record
}

// NewChores builds the user and list roots.
func NewChores(owner string) Chores {
	user := fact.Build("User").Field("publicKey", ir.String(owner)).MustRecord()
	list := fact.Build("List").
		Field("name", ir.String("chores")).
		One("owner", user.Reference()).
		MustRecord()
	return Chores{User: user, List: list}
}

// Task builds a task on the list.
func (c Chores) Task(title string) fact.Record {
	return fact.Build("Task").
		Field("title", ir.String(title)).
		One("list", c.List.Reference()).
		MustRecord()
}

// Completion builds a completion of task.
func Completion(task fact.Record) fact.Record {
	return fact.Build("Completion").One("task", task.Reference()).MustRecord()
}

// Revocation builds a revocation of completion.
func Revocation(completion fact.Record) fact.Record {
	return fact.Build("Revocation").One("completion", completion.Reference()).MustRecord()
}

// Name builds a Name of user superseding priors.
func Name(user fact.Record, value string, priors ...fact.Record) fact.Record {
	b := fact.Build("Name").Field("value", ir.String(value)).One("user", user.Reference())
	if len(priors) > 0 {
		refs := make([]fact.Reference, len(priors))
		for i, p := range priors {
			refs[i] = p.Reference()
		}
		b = b.Many("prior", refs...)
	}
	return b.MustRecord()
}

// User builds a user keyed by publicKey.
func User(publicKey string) fact.Record {
	return fact.Build("User").Field("publicKey", ir.String(publicKey)).MustRecord()
}
