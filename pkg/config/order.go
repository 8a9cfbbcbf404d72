package config

// StartupOrder computes each service's deploy order: the longest path
// from a root (a service with no depends_on) through the depends_on
// DAG (spec §4.G "Ordering"). Services that share an order deploy in
// parallel; services at different orders deploy sequentially,
// earliest order first. Validate must have already rejected a cycle —
// this assumes the depends_on graph is acyclic.
func StartupOrder(services []ServiceSpec) map[string]int {
	byName := make(map[string]ServiceSpec, len(services))
	for _, svc := range services {
		byName[svc.Name] = svc
	}

	order := make(map[string]int, len(services))
	var resolve func(name string) int
	resolve = func(name string) int {
		if o, ok := order[name]; ok {
			return o
		}
		svc := byName[name]
		longest := 0
		for _, dep := range svc.DependsOn {
			if o := resolve(dep) + 1; o > longest {
				longest = o
			}
		}
		order[name] = longest
		return longest
	}

	for _, svc := range services {
		resolve(svc.Name)
	}
	return order
}

// Waves groups service names by StartupOrder, ordered from lowest
// (roots) to highest, so the Deployment Engine can deploy each wave in
// parallel and each wave sequentially after the last.
func Waves(services []ServiceSpec) [][]string {
	order := StartupOrder(services)
	maxOrder := 0
	for _, o := range order {
		if o > maxOrder {
			maxOrder = o
		}
	}
	waves := make([][]string, maxOrder+1)
	for _, svc := range services {
		o := order[svc.Name]
		waves[o] = append(waves[o], svc.Name)
	}
	return waves
}
