package specification

func officesSpec() Specification {
	return Specification{
		Given: []Label{L("p1", "Company")},
		Matches: []Match{
			M(L("u1", "Office"), Path([]Role{R("company", "Company")}, "p1")),
		},
	}
}

func currentNamesSpec() Specification {
	return Specification{
		Given: []Label{L("p1", "User")},
		Matches: []Match{
			M(L("u1", "Name"),
				Path([]Role{R("user", "User")}, "p1"),
				NotExists(M(L("u2", "Name"), Path([]Role{R("prior", "Name")}, "u1"))),
			),
		},
		Projection: FieldProjection{Label: "u1", Field: "value"},
	}
}

func uncompletedTasksSpec() Specification {
	return Specification{
		Given: []Label{L("p1", "List")},
		Matches: []Match{
			M(L("u1", "Task"),
				Path([]Role{R("list", "List")}, "p1"),
				NotExists(M(L("u2", "Completion"), Path([]Role{R("task", "Task")}, "u1"))),
			),
		},
	}
}

func officePresidentsSpec() Specification {
	return Specification{
		Given: []Label{L("p1", "Company")},
		Matches: []Match{
			M(L("u1", "Office"), Path([]Role{R("company", "Company")}, "p1")),
		},
		Projection: CompositeProjection{Components: []Component{
			{Name: "presidents", Projection: SpecificationProjection{
				Matches: []Match{
					M(L("u2", "President"), Path([]Role{R("office", "Office")}, "u1")),
				},
				Projection: FactProjection{Label: "u2"},
			}},
			{Name: "identifier", Projection: FieldProjection{Label: "u1", Field: "identifier"}},
		}},
	}
}
